package moderation

import "time"

// Entry хранит нормализованное сообщение в истории пользователя.
type Entry struct {
	Text string
	At   time.Time
}

// History — кольцевой буфер последних сообщений пользователя с вытеснением FIFO.
// Не потокобезопасен: владельцем является единственный writer профиля.
type History struct {
	entries []Entry
	start   int
	size    int
	evicted uint64
}

// NewHistory создаёт буфер заданной ёмкости (минимум 1).
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{entries: make([]Entry, capacity)}
}

// Push добавляет запись, вытесняя самую старую при заполнении.
func (h *History) Push(e Entry) (evicted bool) {
	capacity := len(h.entries)
	if h.size < capacity {
		h.entries[(h.start+h.size)%capacity] = e
		h.size++
		return false
	}
	h.entries[h.start] = e
	h.start = (h.start + 1) % capacity
	h.evicted++
	return true
}

// Len возвращает число записей в буфере.
func (h *History) Len() int { return h.size }

// Cap возвращает ёмкость буфера.
func (h *History) Cap() int { return len(h.entries) }

// Evicted возвращает, сколько записей было вытеснено за всё время.
func (h *History) Evicted() uint64 { return h.evicted }

// Entries возвращает копию записей от старой к новой.
func (h *History) Entries() []Entry {
	out := make([]Entry, 0, h.size)
	h.each(func(e Entry) { out = append(out, e) })
	return out
}

func (h *History) each(fn func(Entry)) {
	capacity := len(h.entries)
	for i := 0; i < h.size; i++ {
		fn(h.entries[(h.start+i)%capacity])
	}
}

// Resize меняет ёмкость, сохраняя самые новые записи.
func (h *History) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(h.entries) {
		return
	}
	old := h.Entries()
	if len(old) > capacity {
		h.evicted += uint64(len(old) - capacity)
		old = old[len(old)-capacity:]
	}
	h.entries = make([]Entry, capacity)
	copy(h.entries, old)
	h.start = 0
	h.size = len(old)
}
