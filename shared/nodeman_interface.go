package shared

import (
	"context"
)

type NodemanIF interface {
	GetKey(context.Context, string) ([]byte, error)
}
