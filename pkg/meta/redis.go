// pkg/meta/redis.go

package meta

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 1000

type redisStore struct {
	sync.Mutex
	conf    *Config
	rdb     *redis.Client
	prefix  string
	txlocks [1024]sync.Mutex // Pessimistic locks to reduce conflict on Redis

	indexes map[Collection][]Index

	shaRange string // The SHA returned by Redis for the loaded `scriptRange`
}

var _ Store = &redisStore{}

func init() {
	Register("redis", newRedisStore)
	Register("rediss", newRedisStore)
}

// newRedisStore return a record store using Redis.
func newRedisStore(driver, addr string, conf *Config) (Store, error) {
	url := driver + "://" + addr
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %s", url, err)
	}
	readTimeout, writeTimeout := conf.ReadTimeout, conf.WriteTimeout
	if readTimeout == 0 {
		readTimeout = time.Second * 30
	}
	if writeTimeout == 0 {
		writeTimeout = time.Second * 5
	}

	var rdb *redis.Client
	if strings.Contains(opt.Addr, ",") {
		var fopt redis.FailoverOptions
		ps := strings.Split(opt.Addr, ",")
		fopt.MasterName = ps[0]
		fopt.SentinelAddrs = ps[1:]
		for i, saddr := range fopt.SentinelAddrs {
			h, p, err := net.SplitHostPort(saddr)
			if err != nil {
				fopt.SentinelAddrs[i] = net.JoinHostPort(saddr, "26379")
			} else if p == "" {
				fopt.SentinelAddrs[i] = net.JoinHostPort(h, "26379")
			}
		}
		fopt.Username = opt.Username
		fopt.Password = opt.Password
		if fopt.Password == "" {
			fopt.Password = os.Getenv("REDIS_PASSWORD")
		}
		fopt.SentinelPassword = os.Getenv("SENTINEL_PASSWORD")
		fopt.DB = opt.DB
		fopt.TLSConfig = opt.TLSConfig
		fopt.MaxRetries = conf.Retries
		fopt.MinRetryBackoff = time.Millisecond * 100
		fopt.MaxRetryBackoff = time.Minute
		fopt.ReadTimeout = readTimeout
		fopt.WriteTimeout = writeTimeout
		rdb = redis.NewFailoverClient(&fopt)
	} else {
		if opt.Password == "" {
			opt.Password = os.Getenv("REDIS_PASSWORD")
		}
		opt.MaxRetries = conf.Retries
		opt.MinRetryBackoff = time.Millisecond * 100
		opt.MaxRetryBackoff = time.Minute
		opt.ReadTimeout = readTimeout
		opt.WriteTimeout = writeTimeout
		rdb = redis.NewClient(opt)
	}
	return newRedisStoreWithClient(rdb, conf), nil
}

func newRedisStoreWithClient(rdb *redis.Client, conf *Config) *redisStore {
	rm := &redisStore{
		conf:    conf,
		rdb:     rdb,
		prefix:  conf.Prefix,
		indexes: make(map[Collection][]Index),
	}
	rm.checkServerConfig()
	var err error
	rm.shaRange, err = rm.rdb.ScriptLoad(context.Background(), scriptRange).Result()
	if err != nil {
		logger.Warnf("load scriptRange: %v", err)
		rm.shaRange = ""
	}
	return rm
}

func (rm *redisStore) Name() string {
	return "redis"
}

func (rm *redisStore) docKey(coll Collection) string {
	return rm.prefix + "d" + string(coll)
}

func (rm *redisStore) indexDefKey(coll Collection) string {
	return rm.prefix + "i" + string(coll)
}

// indexKey returns the sorted set holding the group of r in idx.
func (rm *redisStore) indexKey(coll Collection, idx *Index, values []interface{}) (string, error) {
	var b strings.Builder
	b.WriteString(rm.prefix + "x" + string(coll) + "_" + idx.Name)
	for _, v := range values {
		k, err := valueKey(v)
		if err != nil {
			return "", err
		}
		b.WriteString("_")
		b.WriteString(k)
	}
	return b.String(), nil
}

func (rm *redisStore) recordIndexKey(coll Collection, idx *Index, r Record) (string, float64, error) {
	values := make([]interface{}, len(idx.Fields))
	for i, f := range idx.Fields {
		values[i] = r[f]
	}
	key, err := rm.indexKey(coll, idx, values)
	if err != nil {
		return "", 0, err
	}
	var score float64
	if idx.Order != "" {
		n, _ := toNumber(r[idx.Order])
		score = n.f
	}
	return key, score, nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (rm *redisStore) loadIndexes(ctx context.Context, coll Collection) ([]Index, error) {
	rm.Lock()
	idxs, ok := rm.indexes[coll]
	rm.Unlock()
	if ok {
		return idxs, nil
	}
	defs, err := rm.rdb.HGetAll(ctx, rm.indexDefKey(coll)).Result()
	if err != nil {
		return nil, err
	}
	for name, data := range defs {
		var idx Index
		if err := decMode.Unmarshal([]byte(data), &idx); err != nil {
			return nil, errors.Wrapf(err, "index %s of %s", name, coll)
		}
		idxs = append(idxs, idx)
	}
	rm.Lock()
	rm.indexes[coll] = idxs
	rm.Unlock()
	return idxs, nil
}

func (rm *redisStore) EnsureIndex(ctx context.Context, coll Collection, idx Index) error {
	idxs, err := rm.loadIndexes(ctx, coll)
	if err != nil {
		return err
	}
	for _, i := range idxs {
		if i.Name == idx.Name {
			return nil
		}
	}
	data, err := encMode.Marshal(idx)
	if err != nil {
		return err
	}
	created, err := rm.rdb.HSetNX(ctx, rm.indexDefKey(coll), idx.Name, data).Result()
	if err != nil {
		return err
	}
	rm.Lock()
	delete(rm.indexes, coll)
	rm.Unlock()
	if !created {
		return nil
	}
	// backfill records inserted before the index existed
	var cursor uint64
	for {
		kvs, next, err := rm.rdb.HScan(ctx, rm.docKey(coll), cursor, "", scanBatch).Result()
		if err != nil {
			return err
		}
		pipe := rm.rdb.Pipeline()
		for i := 0; i+1 < len(kvs); i += 2 {
			r, err := Unmarshal([]byte(kvs[i+1]))
			if err != nil || !idx.covers(r) {
				continue
			}
			key, score, err := rm.recordIndexKey(coll, &idx, r)
			if err != nil {
				return err
			}
			pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: kvs[i]})
		}
		if _, err = pipe.Exec(ctx); err != nil {
			return err
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	logger.Debugf("created index %s on %s", idx.Name, coll)
	return nil
}

type timeoutError interface {
	Timeout() bool
}

func shouldRetry(err error, retryOnFailure bool) bool {
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return true
	case err == io.EOF, errors.Is(err, io.ErrUnexpectedEOF):
		return retryOnFailure
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}

	if v, ok := err.(timeoutError); ok && v.Timeout() {
		return retryOnFailure
	}

	s := err.Error()
	if s == "ERR max number of clients reached" {
		return true
	}
	ps := strings.SplitN(s, " ", 3)
	switch ps[0] {
	case "LOADING", "READONLY", "CLUSTERDOWN", "TRYAGAIN", "MOVED", "ASK":
		return true
	case "ERR":
		if len(ps) > 1 {
			switch ps[1] {
			case "DISABLE", "NOWRITE", "NOREAD":
				return true
			}
		}
	}
	return false
}

func (rm *redisStore) txn(ctx context.Context, txf func(tx *redis.Tx) error, keys ...string) error {
	var err error
	var khash = fnv.New32()
	_, _ = khash.Write([]byte(keys[0]))
	l := &rm.txlocks[int(khash.Sum32())%len(rm.txlocks)]
	l.Lock()
	defer l.Unlock()
	for i := 0; i < 50; i++ {
		err = rm.rdb.Watch(ctx, txf, keys...)
		if shouldRetry(err, false) {
			logger.Debugf("retry transaction on %s: %s", keys[0], err)
			time.Sleep(time.Microsecond * 100 * time.Duration(rand.Int()%(i+1)))
			continue
		}
		return err
	}
	logger.Warnf("transaction on %s failed after retries: %s", keys[0], err)
	return err
}

func (rm *redisStore) InsertRecord(ctx context.Context, coll Collection, r Record) error {
	id, ok := r["_id"]
	if !ok {
		return errors.New("record has no _id")
	}
	idKey, err := valueKey(id)
	if err != nil {
		return errors.Wrap(err, "encode _id")
	}
	data, err := Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	nr, err := Unmarshal(data)
	if err != nil {
		return err
	}
	idxs, err := rm.loadIndexes(ctx, coll)
	if err != nil {
		return err
	}

	type entry struct {
		idx   *Index
		key   string
		score float64
	}
	var entries []entry
	keys := []string{rm.docKey(coll)}
	for i := range idxs {
		if !idxs[i].covers(nr) {
			continue
		}
		key, score, err := rm.recordIndexKey(coll, &idxs[i], nr)
		if err != nil {
			return err
		}
		entries = append(entries, entry{&idxs[i], key, score})
		keys = append(keys, key)
	}

	return rm.txn(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, rm.docKey(coll), idKey).Result()
		if err != nil {
			return err
		}
		if exists {
			return errors.Wrapf(ErrDuplicateKey, "%s _id %v", coll, id)
		}
		for _, e := range entries {
			if !e.idx.Unique {
				continue
			}
			var n int64
			if e.idx.Order != "" {
				s := formatScore(e.score)
				n, err = tx.ZCount(ctx, e.key, s, s).Result()
			} else {
				n, err = tx.ZCard(ctx, e.key).Result()
			}
			if err != nil {
				return err
			}
			if n > 0 {
				return errors.Wrapf(ErrDuplicateKey, "%s index %s", coll, e.idx.Name)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, rm.docKey(coll), idKey, data)
			for _, e := range entries {
				pipe.ZAdd(ctx, e.key, redis.Z{Score: e.score, Member: idKey})
			}
			return nil
		})
		return err
	}, keys...)
}

// plan picks the index serving most of the equality conditions of f.
func (rm *redisStore) plan(idxs []Index, f Filter) (*Index, []interface{}) {
	var best *Index
	var bestValues []interface{}
	bestScore := 0
	for i := range idxs {
		idx := &idxs[i]
		values := make([]interface{}, 0, len(idx.Fields))
		for _, field := range idx.Fields {
			v, ok := f.eq(field)
			if !ok {
				break
			}
			values = append(values, v)
		}
		if len(values) < len(idx.Fields) {
			continue
		}
		score := 1 + len(values)*2
		if _, ok := f[idx.Order]; ok && idx.Order != "" {
			score++
		}
		if score > bestScore {
			best, bestValues, bestScore = idx, values, score
		}
	}
	return best, bestValues
}

// scoreRange turns the conditions on the order field into a ZRANGEBYSCORE range.
func scoreRange(f Filter, field string) (string, string) {
	min, max := "-inf", "+inf"
	lo, hi := math.Inf(-1), math.Inf(1)
	if _, ok := f[field]; !ok || field == "" {
		return min, max
	}
	for _, c := range f.conds(field) {
		n, ok := toNumber(c.Value)
		if !ok {
			continue
		}
		switch c.Op {
		case OpEq:
			if n.f >= lo {
				lo, min = n.f, formatScore(n.f)
			}
			if n.f <= hi {
				hi, max = n.f, formatScore(n.f)
			}
		case OpGt:
			if n.f >= lo {
				lo, min = n.f, "("+formatScore(n.f)
			}
		case OpGte:
			if n.f > lo {
				lo, min = n.f, formatScore(n.f)
			}
		case OpLt:
			if n.f <= hi {
				hi, max = n.f, "("+formatScore(n.f)
			}
		case OpLte:
			if n.f < hi {
				hi, max = n.f, formatScore(n.f)
			}
		}
	}
	return min, max
}

func (rm *redisStore) rangeDocs(ctx context.Context, coll Collection, key, min, max string) ([]string, error) {
	if rm.shaRange != "" {
		res, err := rm.rdb.EvalSha(ctx, rm.shaRange, []string{key, rm.docKey(coll)}, min, max).Result()
		if err == nil {
			vals, _ := res.([]interface{})
			docs := make([]string, 0, len(vals))
			for _, v := range vals {
				if s, ok := v.(string); ok {
					docs = append(docs, s)
				}
			}
			return docs, nil
		}
		if !strings.Contains(err.Error(), "NOSCRIPT") {
			return nil, err
		}
		logger.Warnf("eval scriptRange: %s", err)
		rm.shaRange = ""
	}
	ids, err := rm.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	var docs []string
	for i := 0; i < len(ids); i += scanBatch {
		end := i + scanBatch
		if end > len(ids) {
			end = len(ids)
		}
		vals, err := rm.rdb.HMGet(ctx, rm.docKey(coll), ids[i:end]...).Result()
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			if s, ok := v.(string); ok {
				docs = append(docs, s)
			}
		}
	}
	return docs, nil
}

func (rm *redisStore) scanDocs(ctx context.Context, coll Collection) ([]string, error) {
	var docs []string
	var cursor uint64
	for {
		kvs, next, err := rm.rdb.HScan(ctx, rm.docKey(coll), cursor, "", scanBatch).Result()
		if err != nil {
			return nil, err
		}
		for i := 1; i < len(kvs); i += 2 {
			docs = append(docs, kvs[i])
		}
		if next == 0 {
			return docs, nil
		}
		cursor = next
	}
}

func (rm *redisStore) find(ctx context.Context, coll Collection, f Filter) ([]Record, error) {
	var docs []string
	if id, ok := f.eq("_id"); ok {
		idKey, err := valueKey(id)
		if err != nil {
			return nil, err
		}
		doc, err := rm.rdb.HGet(ctx, rm.docKey(coll), idKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if err == nil {
			docs = []string{doc}
		}
	} else {
		idxs, err := rm.loadIndexes(ctx, coll)
		if err != nil {
			return nil, err
		}
		if idx, values := rm.plan(idxs, f); idx != nil {
			key, err := rm.indexKey(coll, idx, values)
			if err != nil {
				return nil, err
			}
			min, max := scoreRange(f, idx.Order)
			docs, err = rm.rangeDocs(ctx, coll, key, min, max)
			if err != nil {
				return nil, err
			}
		} else {
			logger.Tracef("full scan of %s for %v", coll, f)
			if docs, err = rm.scanDocs(ctx, coll); err != nil {
				return nil, err
			}
		}
	}

	rs := make([]Record, 0, len(docs))
	for _, doc := range docs {
		r, err := Unmarshal([]byte(doc))
		if err != nil {
			logger.Errorf("corrupted record in %s: %s", coll, err)
			continue
		}
		if f.Match(r) {
			rs = append(rs, r)
		}
	}
	return rs, nil
}

func (rm *redisStore) FindOne(ctx context.Context, coll Collection, f Filter) (Record, error) {
	rs, err := rm.find(ctx, coll, f)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, ErrNoRecord
	}
	if len(rs) > 1 {
		rs = (&FindOptions{Sort: []Order{{Field: "_id"}}, Limit: 1}).apply(rs)
	}
	return rs[0], nil
}

func (rm *redisStore) FindMany(ctx context.Context, coll Collection, f Filter, opts *FindOptions) ([]Record, error) {
	rs, err := rm.find(ctx, coll, f)
	if err != nil {
		return nil, err
	}
	return opts.apply(rs), nil
}

func (rm *redisStore) UpdateOne(ctx context.Context, coll Collection, f Filter, set Record) (bool, error) {
	if _, ok := set["_id"]; ok {
		return false, errors.New("cannot update _id")
	}
	old, err := rm.FindOne(ctx, coll, f)
	if errors.Is(err, ErrNoRecord) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	idKey, err := valueKey(old["_id"])
	if err != nil {
		return false, err
	}
	idxs, err := rm.loadIndexes(ctx, coll)
	if err != nil {
		return false, err
	}
	var updated bool
	err = rm.txn(ctx, func(tx *redis.Tx) error {
		doc, err := tx.HGet(ctx, rm.docKey(coll), idKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		cur, err := Unmarshal([]byte(doc))
		if err != nil {
			return err
		}
		next := cur.Clone()
		for k, v := range set {
			next[k] = v
		}
		data, err := Marshal(next)
		if err != nil {
			return err
		}
		if next, err = Unmarshal(data); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i := range idxs {
				if idxs[i].covers(cur) {
					key, _, err := rm.recordIndexKey(coll, &idxs[i], cur)
					if err != nil {
						return err
					}
					pipe.ZRem(ctx, key, idKey)
				}
				if idxs[i].covers(next) {
					key, score, err := rm.recordIndexKey(coll, &idxs[i], next)
					if err != nil {
						return err
					}
					pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: idKey})
				}
			}
			pipe.HSet(ctx, rm.docKey(coll), idKey, data)
			return nil
		})
		updated = err == nil
		return err
	}, rm.docKey(coll))
	return updated, err
}

func (rm *redisStore) DeleteMany(ctx context.Context, coll Collection, f Filter) (int64, error) {
	rs, err := rm.find(ctx, coll, f)
	if err != nil || len(rs) == 0 {
		return 0, err
	}
	idxs, err := rm.loadIndexes(ctx, coll)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for start := 0; start < len(rs); start += scanBatch {
		end := start + scanBatch
		if end > len(rs) {
			end = len(rs)
		}
		var dels []*redis.IntCmd
		_, err = rm.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, r := range rs[start:end] {
				idKey, err := valueKey(r["_id"])
				if err != nil {
					return err
				}
				for i := range idxs {
					if !idxs[i].covers(r) {
						continue
					}
					key, _, err := rm.recordIndexKey(coll, &idxs[i], r)
					if err != nil {
						return err
					}
					pipe.ZRem(ctx, key, idKey)
				}
				dels = append(dels, pipe.HDel(ctx, rm.docKey(coll), idKey))
			}
			return nil
		})
		if err != nil {
			return deleted, err
		}
		for _, d := range dels {
			deleted += d.Val()
		}
	}
	return deleted, nil
}

func (rm *redisStore) checkServerConfig() {
	ctx := context.Background()
	rawInfo, err := rm.rdb.Info(ctx, "memory").Result()
	if err != nil {
		logger.Warnf("parse info: %s", err)
		return
	}
	for _, l := range strings.Split(rawInfo, "\n") {
		l = strings.TrimSpace(l)
		if !strings.HasPrefix(l, "maxmemory_policy:") {
			continue
		}
		if p := strings.TrimPrefix(l, "maxmemory_policy:"); p != "noeviction" {
			logger.Warnf("maxmemory_policy is %q, chunks may be evicted, please set it to 'noeviction'", p)
		}
	}

	start := time.Now()
	_ = rm.rdb.Ping(ctx)
	logger.Infof("Ping redis: %s", time.Since(start))
}
