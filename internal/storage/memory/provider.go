// Package memory holds piece data in RAM with an LRU byte budget. Blobs
// pushed out of the budget are spilled to disk when a spill directory is
// configured, and dropped otherwise; the evict hook tells the owner which
// blob is gone so it can forget the piece.
//
// Provider implements resource.Provider, so it backs both the in-process
// piece store and anacrolix's resource piece storage.
package memory

import (
	"bytes"
	"container/list"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/missinggo/v2/resource"
)

var (
	errNilReader    = errors.New("nil reader")
	errNegativeSize = errors.New("invalid size")
	errNegativeOff  = errors.New("negative offset")
	errNotDirectory = errors.New("not a directory")
)

type Provider struct {
	mu    sync.Mutex
	blobs map[string]*blob
	lru   *list.List

	maxBytes int64
	curBytes int64
	spillDir string
	onEvict  func(name string)
}

type blob struct {
	data   []byte
	size   int64
	mod    time.Time
	elem   *list.Element
	onDisk bool
}

type ProviderOption func(*Provider)

func WithMaxBytes(max int64) ProviderOption {
	return func(p *Provider) {
		if max > 0 {
			p.maxBytes = max
		}
	}
}

// WithEvictHook registers fn to run, without the provider lock held, for
// every blob dropped from the budget without being spilled.
func WithEvictHook(fn func(name string)) ProviderOption {
	return func(p *Provider) {
		p.onEvict = fn
	}
}

func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		blobs: make(map[string]*blob),
		lru:   list.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.spillDir != "" {
		_ = os.MkdirAll(p.spillDir, 0o755)
		p.loadSpilled()
	}
	return p
}

func (p *Provider) MaxBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxBytes
}

func (p *Provider) SetMaxBytes(max int64) {
	if max < 0 {
		max = 0
	}
	p.mu.Lock()
	p.maxBytes = max
	evicted := p.evictLocked()
	p.mu.Unlock()
	p.fireEvicted(evicted)
}

// ResidentBytes is the number of bytes currently held in memory.
func (p *Provider) ResidentBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curBytes
}

func (p *Provider) NewInstance(name string) (resource.Instance, error) {
	clean, err := cleanPath(name)
	if err != nil {
		return nil, err
	}
	return &instance{provider: p, name: clean}, nil
}

type instance struct {
	provider *Provider
	name     string
}

func (i *instance) Get() (io.ReadCloser, error) {
	data, ok := i.provider.get(i.name)
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (i *instance) Put(r io.Reader) error {
	if r == nil {
		return errNilReader
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	i.provider.put(i.name, data)
	return nil
}

func (i *instance) PutSized(r io.Reader, size int64) error {
	if r == nil {
		return errNilReader
	}
	if size < 0 {
		return errNegativeSize
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	i.provider.put(i.name, buf)
	return nil
}

func (i *instance) Stat() (os.FileInfo, error)               { return i.provider.stat(i.name) }
func (i *instance) ReadAt(b []byte, off int64) (int, error)  { return i.provider.readAt(i.name, b, off) }
func (i *instance) WriteAt(b []byte, off int64) (int, error) { return i.provider.writeAt(i.name, b, off) }
func (i *instance) Readdirnames() ([]string, error)          { return i.provider.readdir(i.name) }

func (i *instance) Delete() error {
	i.provider.delete(i.name)
	return nil
}

func (p *Provider) get(name string) ([]byte, bool) {
	p.mu.Lock()
	b, ok := p.blobs[name]
	if !ok {
		p.mu.Unlock()
		return nil, false
	}
	if !b.onDisk {
		p.touchLocked(name, b)
		data := bytes.Clone(b.data)
		p.mu.Unlock()
		return data, true
	}
	p.mu.Unlock()

	data, err := p.readSpilled(name)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (p *Provider) put(name string, data []byte) {
	data = bytes.Clone(data)
	now := time.Now().UTC()

	p.mu.Lock()
	b, ok := p.blobs[name]
	if !ok {
		b = &blob{}
		p.blobs[name] = b
	} else if b.onDisk {
		p.removeSpilledLocked(name)
	} else {
		p.curBytes -= int64(len(b.data))
	}
	b.data = data
	b.size = int64(len(data))
	b.mod = now
	b.onDisk = false
	p.curBytes += b.size
	p.touchLocked(name, b)
	evicted := p.evictLocked()
	p.mu.Unlock()
	p.fireEvicted(evicted)
}

func (p *Provider) readAt(name string, dst []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativeOff
	}
	p.mu.Lock()
	b, ok := p.blobs[name]
	if !ok {
		p.mu.Unlock()
		return 0, os.ErrNotExist
	}
	if b.onDisk {
		size := b.size
		p.mu.Unlock()
		if off >= size {
			return 0, io.EOF
		}
		return p.readSpilledAt(name, dst, off)
	}
	defer p.mu.Unlock()
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(dst, b.data[off:])
	p.touchLocked(name, b)
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

func (p *Provider) writeAt(name string, src []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativeOff
	}
	maxInt := int64(^uint(0) >> 1)
	if off > maxInt-int64(len(src)) {
		return 0, errors.New("offset too large")
	}
	end := int(off) + len(src)

	p.mu.Lock()
	b := p.blobs[name]
	if b == nil {
		b = &blob{}
		p.blobs[name] = b
	}
	if b.onDisk {
		n, err := p.writeSpilledAtLocked(name, b, src, off)
		p.mu.Unlock()
		return n, err
	}

	p.curBytes -= int64(len(b.data))
	if end > len(b.data) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:], src)
	b.size = int64(len(b.data))
	b.mod = time.Now().UTC()
	p.curBytes += b.size
	p.touchLocked(name, b)
	evicted := p.evictLocked()
	p.mu.Unlock()
	p.fireEvicted(evicted)
	return len(src), nil
}

func (p *Provider) delete(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blobs[name]
	if !ok {
		return
	}
	if b.onDisk {
		p.removeSpilledLocked(name)
	} else {
		p.curBytes -= int64(len(b.data))
	}
	if b.elem != nil {
		p.lru.Remove(b.elem)
	}
	delete(p.blobs, name)
}

func (p *Provider) stat(name string) (os.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.blobs[name]; ok {
		return blobInfo{name: path.Base(name), size: b.size, mod: b.mod}, nil
	}
	if p.hasChildrenLocked(name) {
		return blobInfo{name: path.Base(name), dir: true, mod: time.Now().UTC()}, nil
	}
	return nil, os.ErrNotExist
}

func (p *Provider) readdir(name string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.blobs[name]; ok {
		return nil, errNotDirectory
	}

	prefix := dirPrefix(name)
	seen := map[string]struct{}{}
	for key := range p.blobs {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || rest == "" {
			continue
		}
		part, _, _ := strings.Cut(rest, "/")
		seen[part] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, os.ErrNotExist
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Provider) hasChildrenLocked(name string) bool {
	prefix := dirPrefix(name)
	for key := range p.blobs {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func (p *Provider) touchLocked(name string, b *blob) {
	if b.onDisk {
		if b.elem != nil {
			p.lru.Remove(b.elem)
			b.elem = nil
		}
		return
	}
	if b.elem == nil {
		b.elem = p.lru.PushFront(name)
		return
	}
	p.lru.MoveToFront(b.elem)
}

// evictLocked trims memory to maxBytes and returns the names that were
// dropped outright.
func (p *Provider) evictLocked() []string {
	if p.maxBytes <= 0 {
		return nil
	}
	var dropped []string
	for p.curBytes > p.maxBytes {
		back := p.lru.Back()
		if back == nil {
			break
		}
		name, _ := back.Value.(string)
		p.lru.Remove(back)

		b := p.blobs[name]
		if b == nil {
			continue
		}
		b.elem = nil
		if b.onDisk {
			continue
		}
		if p.spillDir != "" {
			if err := p.spillLocked(name, b); err == nil {
				continue
			}
		}
		p.curBytes -= int64(len(b.data))
		delete(p.blobs, name)
		dropped = append(dropped, name)
	}
	return dropped
}

func (p *Provider) fireEvicted(names []string) {
	if p.onEvict == nil {
		return
	}
	for _, name := range names {
		p.onEvict(name)
	}
}

func dirPrefix(name string) string {
	if name == "" {
		return ""
	}
	return name + "/"
}

type blobInfo struct {
	name string
	size int64
	mod  time.Time
	dir  bool
}

func (m blobInfo) Name() string { return m.name }
func (m blobInfo) Size() int64  { return m.size }
func (m blobInfo) Mode() os.FileMode {
	if m.dir {
		return os.ModeDir | 0o755
	}
	return 0o644
}
func (m blobInfo) ModTime() time.Time { return m.mod }
func (m blobInfo) IsDir() bool        { return m.dir }
func (m blobInfo) Sys() interface{}   { return nil }

func cleanPath(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("empty path")
	}
	trimmed = strings.ReplaceAll(trimmed, "\\", "/")
	if strings.HasPrefix(trimmed, "/") {
		return "", errors.New("absolute path not allowed")
	}
	if strings.Contains(trimmed, "\x00") {
		return "", errors.New("invalid path")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("invalid path")
	}
	return cleaned, nil
}
