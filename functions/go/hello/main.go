package main

import (
	"context"
	"encoding/json"

	"github.com/funcrun/funcrun/pkg/runtime"
)

// Handler is exported so the module can also be built as a plugin and loaded
// through a handler locator like "hello.Handler".
var Handler = func(ctx context.Context, event json.RawMessage) (any, error) {
	return map[string]string{"message": "Hello, World!"}, nil
}

func main() {
	runtime.Start(Handler)
}
