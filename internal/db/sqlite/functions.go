package sqlite

import (
	"database/sql/driver"
	"fmt"
	"sync"

	sqlite "modernc.org/sqlite"

	"github.com/kailas-cloud/ragmcp/internal/domain/vector"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions installs vec_cosine(a BLOB, b BLOB) on the driver.
// Must run before the first connection is opened.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction("vec_cosine", 2, vecCosine)
	})
	return registerErr
}

func vecCosine(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_cosine: expected 2 arguments, got %d", len(args))
	}
	a, err := blobArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := blobArg(args[1])
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, nil
	}
	return vector.Cosine(a, b) //nolint:wrapcheck // surfaced by the driver
}

func blobArg(v driver.Value) ([]float32, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return vector.Decode(b) //nolint:wrapcheck // surfaced by the driver
	default:
		return nil, fmt.Errorf("vec_cosine: unsupported argument type %T, want BLOB", v)
	}
}
