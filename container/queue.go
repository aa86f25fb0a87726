package container

import "container/list"

// Queue is a FIFO that also allows taking an element out of the middle,
// which the link simulator uses to reorder in-flight packets.
type Queue[T any] struct {
	list *list.List
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.list = list.New()
	return q
}

func (q *Queue[T]) lazyInit() {
	if q.list == nil {
		q.list = list.New()
	}
}

func (q *Queue[T]) Enqueue(value T) {
	q.lazyInit()
	q.list.PushBack(value)
}

func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if q.IsEmpty() {
		return zero, false
	}
	elem := q.list.Front()
	q.list.Remove(elem)
	return elem.Value.(T), true
}

// RemoveAt takes out the element at position index, counting from the front.
func (q *Queue[T]) RemoveAt(index int) (T, bool) {
	var zero T
	if index < 0 || index >= q.Len() {
		return zero, false
	}
	elem := q.list.Front()
	for i := 0; i < index; i++ {
		elem = elem.Next()
	}
	q.list.Remove(elem)
	return elem.Value.(T), true
}

// Items returns a snapshot of the queue, front first.
func (q *Queue[T]) Items() []T {
	result := make([]T, 0, q.Len())
	if q.list == nil {
		return result
	}
	for elem := q.list.Front(); elem != nil; elem = elem.Next() {
		result = append(result, elem.Value.(T))
	}
	return result
}

func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

func (q *Queue[T]) Len() int {
	if q.list == nil {
		return 0
	}
	return q.list.Len()
}
