// Package remotetest provides an in-memory remote.Client for tests. It
// models a folder tree with server-assigned ids, etags that change on every
// write, paginated listings, and 409 name conflicts that carry the existing
// entity, which is enough to exercise the resolver and synchronizer without
// a network.
package remotetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/naokikimura/carp-streamer/internal/digest"
	"github.com/naokikimura/carp-streamer/internal/remote"
)

// RootID is the id of the pre-created root folder.
const RootID = "0"

// Method names used for call counting and failure injection.
const (
	MethodGetFolder           = "GetFolder"
	MethodListChildren        = "ListChildren"
	MethodCreateFolder        = "CreateFolder"
	MethodGetFile             = "GetFile"
	MethodConditionalGet      = "ConditionalGet"
	MethodPreflightUpload     = "PreflightUpload"
	MethodPreflightNewVersion = "PreflightNewVersion"
	MethodUploadSimple        = "UploadSimple"
	MethodUploadChunked       = "UploadChunked"
	MethodUploadNewVersion    = "UploadNewVersion"
)

type node struct {
	entity   remote.Entity
	children []string
	content  []byte
}

// Server is an in-memory remote. The zero value is not usable; call New.
type Server struct {
	// PageSize is the number of children returned per ListChildren page.
	PageSize int

	// OmitConflictDetails makes conflicts report no existing entity, which
	// forces callers onto the retry path instead of adoption.
	OmitConflictDetails bool

	// BeforeCreateFolder, when set, runs before a CreateFolder call is
	// applied. Tests use it to line up concurrent creators.
	BeforeCreateFolder func(parentID, name string)

	mu     sync.Mutex
	nodes  map[string]*node
	nextID int
	calls  map[string]int
	fail   map[string][]error
}

var _ remote.Client = (*Server)(nil)

// New creates a server holding only the root folder "0".
func New() *Server {
	s := &Server{
		PageSize: 2,
		nodes:    make(map[string]*node),
		nextID:   100,
		calls:    make(map[string]int),
		fail:     make(map[string][]error),
	}

	s.nodes[RootID] = &node{entity: remote.NewFolder(RootID, "All Files", "", "", 0)}

	return s
}

// FailNext queues errors returned by the next calls to method, one per
// call, before normal behavior resumes.
func (s *Server) FailNext(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fail[method] = append(s.fail[method], errs...)
}

// Calls returns the number of times method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.calls {
		total += n
	}

	return total
}

// ResetCalls zeroes the call counters.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = make(map[string]int)
}

// AddFolder creates a folder directly, bypassing conflict checks.
func (s *Server) AddFolder(parentID, name string) remote.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addLocked(parentID, remote.NewFolder(s.newIDLocked(), name, "0", parentID, 0), nil)
}

// AddFile creates a file directly, bypassing conflict checks.
func (s *Server) AddFile(parentID, name string, content []byte) remote.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, _ := digest.Reader(bytes.NewReader(content)) //nolint:errcheck // in-memory read cannot fail
	file := remote.NewFile(s.newIDLocked(), name, "0", parentID, sum, int64(len(content)))

	return s.addLocked(parentID, file, content)
}

// Remove deletes an entity and its subtree.
func (s *Server) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return
	}

	if parent, ok := s.nodes[n.entity.ParentID]; ok {
		kept := parent.children[:0]
		for _, c := range parent.children {
			if c != id {
				kept = append(kept, c)
			}
		}

		parent.children = kept
	}

	var drop func(string)
	drop = func(id string) {
		for _, c := range s.nodes[id].children {
			drop(c)
		}

		delete(s.nodes, id)
	}
	drop(id)
}

// Touch bumps an entity's etag as if it had been modified remotely.
func (s *Server) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[id]; ok {
		n.entity.ETag = bumpETag(n.entity.ETag)
	}
}

// Children returns the current children of a folder, sorted by name.
func (s *Server) Children(parentID string) []remote.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.childrenLocked(parentID)
}

// Content returns the stored bytes of a file.
func (s *Server) Content(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[id]; ok {
		return append([]byte(nil), n.content...)
	}

	return nil
}

// GetFolder implements remote.Client.
func (s *Server) GetFolder(_ context.Context, id string) (*remote.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(MethodGetFolder); err != nil {
		return nil, err
	}

	n, ok := s.nodes[id]
	if !ok || !n.entity.IsFolder() {
		return nil, notFound(id)
	}

	e := s.withCountLocked(n)

	return &e, nil
}

// ListChildren implements remote.Client. Markers are decimal offsets.
func (s *Server) ListChildren(_ context.Context, folderID, marker string) ([]remote.Entity, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(MethodListChildren); err != nil {
		return nil, "", err
	}

	if n, ok := s.nodes[folderID]; !ok || !n.entity.IsFolder() {
		return nil, "", notFound(folderID)
	}

	offset := 0
	if marker != "" {
		var err error
		if offset, err = strconv.Atoi(marker); err != nil {
			return nil, "", remote.NewAPIError(http.StatusBadRequest, "invalid marker "+marker)
		}
	}

	all := s.childrenLocked(folderID)
	if offset > len(all) {
		offset = len(all)
	}

	size := s.PageSize
	if size <= 0 {
		size = len(all) + 1
	}

	end := min(offset+size, len(all))

	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}

	return all[offset:end], next, nil
}

// CreateFolder implements remote.Client.
func (s *Server) CreateFolder(_ context.Context, parentID, name string) (*remote.Entity, error) {
	if hook := s.BeforeCreateFolder; hook != nil {
		hook(parentID, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(MethodCreateFolder); err != nil {
		return nil, err
	}

	if _, ok := s.nodes[parentID]; !ok {
		return nil, notFound(parentID)
	}

	if existing := s.findByNameLocked(parentID, name); existing != nil {
		return nil, s.conflict(existing)
	}

	e := s.addLocked(parentID, remote.NewFolder(s.newIDLocked(), name, "0", parentID, 0), nil)

	return &e, nil
}

// GetFile implements remote.Client.
func (s *Server) GetFile(_ context.Context, id string) (*remote.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(MethodGetFile); err != nil {
		return nil, err
	}

	n, ok := s.nodes[id]
	if !ok || !n.entity.IsFile() {
		return nil, notFound(id)
	}

	e := n.entity

	return &e, nil
}

// ConditionalGet implements remote.Client.
func (s *Server) ConditionalGet(_ context.Context, kind remote.Kind, id, etag string) (*remote.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(MethodConditionalGet); err != nil {
		return nil, err
	}

	n, ok := s.nodes[id]
	if !ok || n.entity.Kind != kind {
		return nil, notFound(id)
	}

	if etag != "" && n.entity.ETag == etag {
		return nil, remote.NewAPIError(http.StatusNotModified, "")
	}

	e := s.withCountLocked(n)

	return &e, nil
}

// PreflightUpload implements remote.Client.
func (s *Server) PreflightUpload(_ context.Context, folderID, name string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(MethodPreflightUpload); err != nil {
		return err
	}

	if _, ok := s.nodes[folderID]; !ok {
		return notFound(folderID)
	}

	if existing := s.findByNameLocked(folderID, name); existing != nil {
		return s.conflict(existing)
	}

	return nil
}

// PreflightNewVersion implements remote.Client.
func (s *Server) PreflightNewVersion(_ context.Context, fileID string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(MethodPreflightNewVersion); err != nil {
		return err
	}

	if n, ok := s.nodes[fileID]; !ok || !n.entity.IsFile() {
		return notFound(fileID)
	}

	return nil
}

// UploadSimple implements remote.Client.
func (s *Server) UploadSimple(
	_ context.Context, folderID, name string, content io.Reader, _ remote.UploadAttrs,
) (*remote.Entity, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("remotetest: reading upload: %w", err)
	}

	return s.createFile(MethodUploadSimple, folderID, name, data)
}

// UploadChunked implements remote.Client.
func (s *Server) UploadChunked(
	_ context.Context, folderID string, size int64, name string, content io.ReaderAt, _ remote.UploadAttrs,
) (*remote.Entity, error) {
	data, err := io.ReadAll(io.NewSectionReader(content, 0, size))
	if err != nil {
		return nil, fmt.Errorf("remotetest: reading chunked upload: %w", err)
	}

	return s.createFile(MethodUploadChunked, folderID, name, data)
}

// UploadNewVersion implements remote.Client.
func (s *Server) UploadNewVersion(
	_ context.Context, fileID string, content io.Reader, _ remote.UploadAttrs,
) (*remote.Entity, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("remotetest: reading new version: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(MethodUploadNewVersion); err != nil {
		return nil, err
	}

	n, ok := s.nodes[fileID]
	if !ok || !n.entity.IsFile() {
		return nil, notFound(fileID)
	}

	sum, _ := digest.Reader(bytes.NewReader(data)) //nolint:errcheck // in-memory read cannot fail
	n.content = data
	n.entity.SHA1 = sum
	n.entity.Size = int64(len(data))
	n.entity.ETag = bumpETag(n.entity.ETag)

	e := n.entity

	return &e, nil
}

func (s *Server) createFile(method, folderID, name string, data []byte) (*remote.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(method); err != nil {
		return nil, err
	}

	if _, ok := s.nodes[folderID]; !ok {
		return nil, notFound(folderID)
	}

	if existing := s.findByNameLocked(folderID, name); existing != nil {
		return nil, s.conflict(existing)
	}

	sum, _ := digest.Reader(bytes.NewReader(data)) //nolint:errcheck // in-memory read cannot fail
	e := s.addLocked(folderID, remote.NewFile(s.newIDLocked(), name, "0", folderID, sum, int64(len(data))), data)

	return &e, nil
}

// enterLocked counts the call and pops a queued failure, if any.
func (s *Server) enterLocked(method string) error {
	s.calls[method]++

	if queue := s.fail[method]; len(queue) > 0 {
		err := queue[0]
		s.fail[method] = queue[1:]

		return err
	}

	return nil
}

func (s *Server) newIDLocked() string {
	s.nextID++

	return strconv.Itoa(s.nextID)
}

func (s *Server) addLocked(parentID string, e remote.Entity, content []byte) remote.Entity {
	s.nodes[e.ID] = &node{entity: e, content: content}

	if parent, ok := s.nodes[parentID]; ok {
		parent.children = append(parent.children, e.ID)

		// The root carries no etag.
		if parentID != RootID {
			parent.entity.ETag = bumpETag(parent.entity.ETag)
		}
	}

	return e
}

func (s *Server) childrenLocked(parentID string) []remote.Entity {
	n, ok := s.nodes[parentID]
	if !ok {
		return nil
	}

	out := make([]remote.Entity, 0, len(n.children))
	for _, id := range n.children {
		out = append(out, s.withCountLocked(s.nodes[id]))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

func (s *Server) findByNameLocked(parentID, name string) *remote.Entity {
	want := norm.NFC.String(name)

	for _, id := range s.nodes[parentID].children {
		e := s.nodes[id].entity
		if norm.NFC.String(e.Name) == want {
			return &e
		}
	}

	return nil
}

func (s *Server) withCountLocked(n *node) remote.Entity {
	e := n.entity
	if e.IsFolder() {
		e.ItemCount = len(n.children)
	}

	return e
}

func (s *Server) conflict(existing *remote.Entity) error {
	err := remote.NewAPIError(http.StatusConflict, "Item with the same name already exists")
	err.Code = "item_name_in_use"

	if !s.OmitConflictDetails {
		err.Conflict = existing
	}

	return err
}

func notFound(id string) error {
	err := remote.NewAPIError(http.StatusNotFound, "Not Found: "+id)
	err.Code = "not_found"

	return err
}

// RateLimited returns a 429 failure carrying the given retry hint, for use
// with FailNext.
func RateLimited(retryAfterSeconds int) error {
	err := remote.NewAPIError(http.StatusTooManyRequests, "Request rate limit exceeded")
	err.Code = "rate_limit_exceeded"
	err.RetryAfter = secondsToDuration(retryAfterSeconds)

	return err
}

func secondsToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func bumpETag(etag string) string {
	n, _ := strconv.Atoi(etag) //nolint:errcheck // non-numeric etags restart at 1

	return strconv.Itoa(n + 1)
}
