package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/funcrun/funcrun/pkg/runtime"
)

// Handler echoes the event back together with the invocation identity taken
// from the context.
var Handler = func(ctx context.Context, event json.RawMessage) (any, error) {
	lc, ok := lambdacontext.FromContext(ctx)
	if !ok {
		return nil, errors.New("invocation identity missing from context")
	}
	return map[string]any{
		"event":     event,
		"requestId": lc.AwsRequestID,
		"arn":       lc.InvokedFunctionArn,
	}, nil
}

func main() {
	runtime.Start(Handler)
}
