package beacon

import (
	"sync"
)

// Session acquires a connection scoped to the caller: it returns the
// connection id and a release func the caller must run on every exit path
// (success, timeout, or error). Release is idempotent.
//
//	id, release, err := b.Session("", nil)
//	if err != nil {
//		return err
//	}
//	defer release()
//	result := b.WaitForUpdates(ctx, id, beacon.WaitRequest{Timeout: 30 * time.Second})
func (b *Broker) Session(id string, metadata map[string]any) (string, func(), error) {
	meta := map[string]any{"session": true}
	for k, v := range metadata {
		meta[k] = v
	}

	conn, err := b.registry.Create(id, meta)
	if err != nil {
		return "", nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() { b.registry.Remove(conn.ID) })
	}
	return conn.ID, release, nil
}
