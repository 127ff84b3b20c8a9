package kv

import (
	"time"

	. "github.com/stevegt/goadapt"
	bolt "go.etcd.io/bbolt"
)

// Db is a small key-value database with transactions and buckets.
// Keys and bucket names are strings, values are byte slices.  It is a
// thin adapter for bolt.
type Db struct {
	bdb *bolt.DB
}

// Open opens a database, creating it if it doesn't exist.  Another
// process holding the file makes Open fail after timeout.
func Open(path string, timeout time.Duration) (db *Db, err error) {
	defer Return(&err)
	db = &Db{}
	opts := &bolt.Options{Timeout: timeout}
	db.bdb, err = bolt.Open(path, 0600, opts)
	Ck(err)
	return
}

// Close closes the db.
func (db *Db) Close() error {
	return db.bdb.Close()
}

// View runs fn in a read-only transaction.
func (db *Db) View(fn func(tx *Tx) error) error {
	return db.bdb.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx})
	})
}

// Update runs fn in a read-write transaction.  The transaction is
// committed if fn returns nil and rolled back otherwise.
func (db *Db) Update(fn func(tx *Tx) error) error {
	return db.bdb.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx})
	})
}

// Tx is a transaction.  This struct is an adapter for bolt.
type Tx struct {
	btx *bolt.Tx
}

// Put adds or replaces a record in the given bucket, creating the
// bucket if needed.
func (tx *Tx) Put(bucket string, key string, value []byte) (err error) {
	defer Return(&err)
	b, err := tx.MakeBucket(bucket)
	Ck(err)
	err = b.Put([]byte(key), value)
	Ck(err)
	return
}

// Get retrieves a record from the given bucket.  The value is nil if
// the key or bucket does not exist.  The returned slice is a copy and
// stays valid after the transaction ends.
func (tx *Tx) Get(bucket string, key string) (value []byte) {
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	v := b.Get([]byte(key))
	if v == nil {
		return
	}
	value = append([]byte{}, v...)
	return
}

// Delete removes a record from the given bucket.  Missing keys and
// buckets are a no-op.
func (tx *Tx) Delete(bucket string, key string) (err error) {
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	return b.Delete([]byte(key))
}

// List returns all keys in the given bucket in byte order.
func (tx *Tx) List(bucket string) (keys []string, err error) {
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	err = b.ForEach(func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	return
}

// MakeBucket creates a bucket if it doesn't exist yet.
func (tx *Tx) MakeBucket(bucket string) (b *bolt.Bucket, err error) {
	defer Return(&err)
	b = tx.btx.Bucket([]byte(bucket))
	if b != nil {
		return
	}
	b, err = tx.btx.CreateBucketIfNotExists([]byte(bucket))
	Ck(err)
	return
}
