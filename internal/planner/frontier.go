package planner

import "container/heap"

type entry struct {
	score float64
	ref   Ref
}

// queue is a max-heap on score.
type queue []entry

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].score > q[j].score }
func (q queue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(entry)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// Frontier holds one priority queue per depth plus a queue of finished nodes
// that stopped branching early.
type Frontier struct {
	levels   []queue
	finished queue
}

func NewFrontier(horizon int) *Frontier {
	return &Frontier{levels: make([]queue, horizon+1)}
}

func (f *Frontier) Horizon() int { return len(f.levels) - 1 }

func (f *Frontier) Push(depth int, score float64, r Ref) {
	heap.Push(&f.levels[depth], entry{score: score, ref: r})
}

// Pop removes the best node at depth.
func (f *Frontier) Pop(depth int) (Ref, bool) {
	if len(f.levels[depth]) == 0 {
		return Ref{}, false
	}
	e := heap.Pop(&f.levels[depth]).(entry)
	return e.ref, true
}

// Best peeks at the best node at depth.
func (f *Frontier) Best(depth int) (Ref, float64, bool) {
	if len(f.levels[depth]) == 0 {
		return Ref{}, 0, false
	}
	e := f.levels[depth][0]
	return e.ref, e.score, true
}

func (f *Frontier) Len(depth int) int { return len(f.levels[depth]) }

func (f *Frontier) Finish(score float64, r Ref) {
	heap.Push(&f.finished, entry{score: score, ref: r})
}

func (f *Frontier) BestFinished() (Ref, float64, bool) {
	if len(f.finished) == 0 {
		return Ref{}, 0, false
	}
	e := f.finished[0]
	return e.ref, e.score, true
}

func (f *Frontier) Finished() int { return len(f.finished) }

// Clear empties every queue and keeps the backing arrays.
func (f *Frontier) Clear() {
	for i := range f.levels {
		f.levels[i] = f.levels[i][:0]
	}
	f.finished = f.finished[:0]
}
