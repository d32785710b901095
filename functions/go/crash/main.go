package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/funcrun/funcrun/pkg/runtime"
)

// Handler always fails. Useful for exercising the invocation-error path.
var Handler = func(ctx context.Context, event json.RawMessage) (any, error) {
	var req struct {
		Panic bool `json:"panic"`
	}
	if err := json.Unmarshal(event, &req); err == nil && req.Panic {
		panic("crash function panicked on purpose")
	}
	return nil, errors.New("crash function failed on purpose")
}

func main() {
	runtime.Start(Handler)
}
