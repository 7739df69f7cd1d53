package database

import (
	"fmt"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/voter-gate/internal/embedding"
)

// FaceIndex is an in-memory HNSW index over reference embeddings, used to
// detect one face being enrolled under several identities. One graph is kept
// per model and dimension since vectors from different models are not comparable.
type FaceIndex struct {
	graphs  map[string]*hnsw.Graph[int64]
	owners  map[int64]string   // node ID -> identity key
	byVoter map[string][]int64 // identity key -> node IDs
	nextID  int64
	mu      sync.RWMutex
}

// NewFaceIndex creates a new empty index.
func NewFaceIndex() *FaceIndex {
	return &FaceIndex{
		graphs:  make(map[string]*hnsw.Graph[int64]),
		owners:  make(map[int64]string),
		byVoter: make(map[string][]int64),
	}
}

func graphKey(model string, dim int) string {
	return fmt.Sprintf("%s/%d", model, dim)
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with the given references.
func (f *FaceIndex) Build(refs []IndexedReference) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.graphs = make(map[string]*hnsw.Graph[int64])
	f.owners = make(map[int64]string, len(refs))
	f.byVoter = make(map[string][]int64)
	f.nextID = 0

	for _, ref := range refs {
		f.addLocked(ref.IdentityKey, ref.Model, ref.Embedding)
	}
}

// Add indexes one reference embedding of a voter.
func (f *FaceIndex) Add(identityKey, model string, emb []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addLocked(identityKey, model, emb)
}

func (f *FaceIndex) addLocked(identityKey, model string, emb []float32) {
	if !usable(emb) {
		return
	}

	key := graphKey(model, len(emb))
	g, ok := f.graphs[key]
	if !ok {
		g = newGraph()
		f.graphs[key] = g
	}

	f.nextID++
	vec := make([]float32, len(emb))
	copy(vec, emb)
	g.Add(hnsw.MakeNode(f.nextID, vec))
	f.owners[f.nextID] = identityKey
	f.byVoter[identityKey] = append(f.byVoter[identityKey], f.nextID)
}

// Remove drops all references of a voter.
func (f *FaceIndex) Remove(identityKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range f.byVoter[identityKey] {
		delete(f.owners, id)
		// Note: nodes stay in the graph, removing the owner
		// effectively removes them from search results.
	}
	delete(f.byVoter, identityKey)
}

// Nearest returns the identity whose reference is most similar to query,
// ignoring exclude. ok is false when no other identity is indexed for the model.
func (f *FaceIndex) Nearest(model string, query []float32, exclude string) (identityKey string, similarity float64, ok bool) {
	if !usable(query) {
		return "", 0, false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	g, found := f.graphs[graphKey(model, len(query))]
	if !found || g.Len() == 0 {
		return "", 0, false
	}

	best := -2.0
	for _, n := range g.Search(query, HNSWSearchK) {
		owner, live := f.owners[n.Key]
		if !live || owner == exclude {
			continue
		}
		s, err := embedding.Cosine(query, n.Value)
		if err != nil {
			continue
		}
		if s > best {
			best = s
			identityKey = owner
			ok = true
		}
	}
	return identityKey, best, ok
}

// Count returns the number of live references in the index.
func (f *FaceIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.owners)
}

func usable(emb []float32) bool {
	for _, v := range emb {
		if v != 0 {
			return true
		}
	}
	return false
}
