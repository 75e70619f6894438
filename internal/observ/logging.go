// Package observ provides structured JSON line logging and an
// in-process metrics registry shared by the pipeline and the HTTP API.
package observ

import (
	"encoding/json"
	"fmt"
	"time"
)

func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

// LogError is Log with the error flattened into the payload.
func LogError(event string, err error, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["error"] = err.Error()
	Log(event, kv)
}
