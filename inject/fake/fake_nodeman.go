package fake

import (
	"context"
	"errors"
	"sync"
)

type nodeman struct {
	mu    sync.Mutex
	keys  map[string][]byte
	calls int
}

func Nodeman() *nodeman {
	n := new(nodeman)
	n.keys = make(map[string][]byte)
	return n
}

func (n *nodeman) PrepareKey(keyID string, key []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys[keyID] = key
}

func (n *nodeman) GetKey(ctx context.Context, keyID string) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls++
	key, ok := n.keys[keyID]
	if !ok {
		return nil, errors.New("no such key")
	}

	return key, nil
}

func (n *nodeman) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}
