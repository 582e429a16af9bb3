package syncer

import (
	"context"
	"encoding/json"
	"sync"

	"phonesim-core/internal/models"
	"phonesim-core/internal/store"
)

type fakeEntry struct {
	raw     []byte
	version int64
}

// fakeDocs 内存文档存储，按 JSON 保存以覆盖序列化路径；支持失败与并发写入注入
type fakeDocs struct {
	mu      sync.Mutex
	docs    map[string]fakeEntry
	failPut map[string]error
	// racePut 在下一次 Put 之前对该文档执行一次并发修改
	racePut map[string]func(models.Document)
	puts    map[string]int
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		docs:    make(map[string]fakeEntry),
		failPut: make(map[string]error),
		racePut: make(map[string]func(models.Document)),
		puts:    make(map[string]int),
	}
}

func (f *fakeDocs) Get(_ context.Context, name string) (models.Document, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.docs[name]
	if !ok {
		return models.Document{}, 0, nil
	}
	doc := models.Document{}
	if err := json.Unmarshal(entry.raw, &doc); err != nil {
		return nil, 0, err
	}
	return doc, entry.version, nil
}

func (f *fakeDocs) Put(_ context.Context, name string, doc models.Document, expected int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failPut[name]; err != nil {
		return 0, err
	}
	if race, ok := f.racePut[name]; ok {
		delete(f.racePut, name)
		f.applyLocked(name, race)
	}

	current := f.docs[name].version
	if current != expected {
		return 0, &store.ConflictError{Name: name, Expected: expected, Current: current}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}
	f.docs[name] = fakeEntry{raw: raw, version: current + 1}
	f.puts[name]++
	return current + 1, nil
}

func (f *fakeDocs) applyLocked(name string, fn func(models.Document)) {
	doc := models.Document{}
	if entry, ok := f.docs[name]; ok {
		_ = json.Unmarshal(entry.raw, &doc)
	}
	fn(doc)
	raw, _ := json.Marshal(doc)
	f.docs[name] = fakeEntry{raw: raw, version: f.docs[name].version + 1}
}

// seed 直接写入文档（不计入 puts）
func (f *fakeDocs) seed(name string, doc models.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyLocked(name, func(d models.Document) {
		for k, v := range doc {
			d[k] = v
		}
	})
}

func (f *fakeDocs) raw(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[name].raw
}
