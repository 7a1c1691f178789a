// pkg/chunk/singleflight.go

package chunk

import "sync"

type request struct {
	wg  sync.WaitGroup
	val []byte
	err error
}

// Controller runs one fetch per key at a time; concurrent callers share its result.
type Controller struct {
	sync.Mutex
	rs map[string]*request
}

func (con *Controller) Execute(key string, fn func() ([]byte, error)) ([]byte, error) {
	con.Lock()
	if con.rs == nil {
		con.rs = make(map[string]*request)
	}
	if c, ok := con.rs[key]; ok {
		con.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}
	c := new(request)
	c.wg.Add(1)
	con.rs[key] = c
	con.Unlock()

	c.val, c.err = fn()
	c.wg.Done()

	con.Lock()
	delete(con.rs, key)
	con.Unlock()

	return c.val, c.err
}
