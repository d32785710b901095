package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/funcrun/funcrun/pkg/runtime"
)

// Handler treats the event as an API Gateway proxy request and answers with a
// proxy response, the way an HTTP-fronted function would.
var Handler = func(ctx context.Context, event json.RawMessage) (any, error) {
	var req events.APIGatewayProxyRequest
	if err := json.Unmarshal(event, &req); err != nil {
		return nil, fmt.Errorf("event is not an API Gateway proxy request: %w", err)
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       fmt.Sprintf(`{"method":%q,"path":%q}`, req.HTTPMethod, req.Path),
	}, nil
}

func main() {
	runtime.Start(Handler)
}
