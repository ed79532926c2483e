package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"git.mills.io/prologic/bitcask"
	"github.com/boltdb/bolt"
	"github.com/dgraph-io/badger"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/andrewlidong/keystonelight/storage/engine"
)

const rootDir = "/tmp/keystonelight-bench"

const n = 10000

var benchValue = []byte(fmt.Sprintf("%0256d", 123))

func TestKeystoneWrite(t *testing.T) {
	path := rootDir + "/keystone"
	err := os.RemoveAll(path)
	require.Nil(t, err)
	err = os.MkdirAll(path, 0777)
	require.Nil(t, err)

	cfg := engine.DefaultConfig()
	cfg.RootDirectory = path
	cfg.SyncWrite = false
	cfg.CompactThreshold = 1 << 30
	db, err := engine.Open(cfg)
	require.Nil(t, err)
	defer db.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			key := fmt.Sprintf("%016d", i)
			err := db.Set(key, benchValue)
			require.Nil(t, err)
			wg.Done()
		}(i)
	}
	wg.Wait()
	fmt.Println(time.Since(start))
}

func TestKeystoneRead(t *testing.T) {
	path := rootDir + "/keystone"
	cfg := engine.DefaultConfig()
	cfg.RootDirectory = path
	cfg.SyncWrite = false
	cfg.CompactThreshold = 1 << 30
	db, err := engine.Open(cfg)
	require.Nil(t, err)
	defer db.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			key := fmt.Sprintf("%016d", rand.Intn(n))
			actual, err := db.Get(key)
			require.Nil(t, err)
			require.Equal(t, benchValue, actual)
			wg.Done()
		}()
	}
	wg.Wait()
	fmt.Println(time.Since(start))
}

func TestBadgerWrite(t *testing.T) {
	path := rootDir + "/badger"
	err := os.RemoveAll(path)
	require.Nil(t, err)
	err = os.MkdirAll(path, 0777)
	require.Nil(t, err)

	db, err := badger.Open(badger.DefaultOptions(path))
	require.Nil(t, err)
	defer db.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			key := []byte(fmt.Sprintf("%016d", i))
			err := db.Update(func(txn *badger.Txn) error {
				return txn.Set(key, benchValue)
			})
			require.Nil(t, err)
			wg.Done()
		}(i)
	}
	wg.Wait()
	fmt.Println(time.Since(start))
}

func TestBadgerRead(t *testing.T) {
	path := rootDir + "/badger"
	db, err := badger.Open(badger.DefaultOptions(path))
	require.Nil(t, err)
	defer db.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			key := []byte(fmt.Sprintf("%016d", rand.Intn(n)))
			_ = db.View(func(txn *badger.Txn) error {
				item, err := txn.Get(key)
				require.Nil(t, err)
				return item.Value(func(val []byte) error {
					require.Equal(t, benchValue, val)
					return nil
				})
			})
			wg.Done()
		}()
	}
	wg.Wait()
	fmt.Println(time.Since(start))
}

func TestBitcaskWrite(t *testing.T) {
	path := rootDir + "/bitcask"
	err := os.RemoveAll(path)
	require.Nil(t, err)
	err = os.MkdirAll(path, 0777)
	require.Nil(t, err)

	db, err := bitcask.Open(path, bitcask.WithMaxDatafileSize(1<<32))
	require.Nil(t, err)
	defer db.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			key := []byte(fmt.Sprintf("%016d", i))
			err := db.Put(key, benchValue)
			require.Nil(t, err)
			wg.Done()
		}(i)
	}
	wg.Wait()
	fmt.Println(time.Since(start))
}

func TestBitcaskRead(t *testing.T) {
	path := rootDir + "/bitcask"
	db, err := bitcask.Open(path, bitcask.WithMaxDatafileSize(1<<32))
	require.Nil(t, err)
	defer db.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			key := []byte(fmt.Sprintf("%016d", rand.Intn(n)))
			actual, err := db.Get(key)
			require.Nil(t, err)
			require.Equal(t, benchValue, actual)
			wg.Done()
		}()
	}
	wg.Wait()
	fmt.Println(time.Since(start))
}

func TestLevelDBWrite(t *testing.T) {
	path := rootDir + "/leveldb"
	err := os.RemoveAll(path)
	require.Nil(t, err)
	err = os.MkdirAll(path, 0777)
	require.Nil(t, err)

	db, err := leveldb.OpenFile(path, nil)
	require.Nil(t, err)
	defer db.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			key := []byte(fmt.Sprintf("%016d", i))
			err := db.Put(key, benchValue, nil)
			require.Nil(t, err)
			wg.Done()
		}(i)
	}
	wg.Wait()
	fmt.Println(time.Since(start))
}

func TestLevelDBRead(t *testing.T) {
	path := rootDir + "/leveldb"
	db, err := leveldb.OpenFile(path, nil)
	require.Nil(t, err)
	defer db.Close()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			key := []byte(fmt.Sprintf("%016d", rand.Intn(n)))
			actual, err := db.Get(key, nil)
			require.Nil(t, err)
			require.Equal(t, benchValue, actual)
			wg.Done()
		}()
	}
	wg.Wait()
	fmt.Println(time.Since(start))
}

func TestBoltWrite(t *testing.T) {
	path := rootDir + "/bolt"
	err := os.RemoveAll(path)
	require.Nil(t, err)
	err = os.MkdirAll(path, 0777)
	require.Nil(t, err)

	db, err := bolt.Open(path+"/bolt.db", 0600, nil)
	require.Nil(t, err)
	defer db.Close()
	db.NoSync = true

	bucket := []byte("kv")
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	require.Nil(t, err)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			key := []byte(fmt.Sprintf("%016d", i))
			err := db.Batch(func(tx *bolt.Tx) error {
				return tx.Bucket(bucket).Put(key, benchValue)
			})
			require.Nil(t, err)
			wg.Done()
		}(i)
	}
	wg.Wait()
	fmt.Println(time.Since(start))
}

func TestBoltRead(t *testing.T) {
	path := rootDir + "/bolt"
	db, err := bolt.Open(path+"/bolt.db", 0600, nil)
	require.Nil(t, err)
	defer db.Close()

	bucket := []byte("kv")
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			key := []byte(fmt.Sprintf("%016d", rand.Intn(n)))
			_ = db.View(func(tx *bolt.Tx) error {
				actual := tx.Bucket(bucket).Get(key)
				require.Equal(t, benchValue, actual)
				return nil
			})
			wg.Done()
		}()
	}
	wg.Wait()
	fmt.Println(time.Since(start))
}
