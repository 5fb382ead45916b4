package monitor

import (
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/grigorimaxim422/atom/common/log"
)

var m = &monitor{counters: make(map[string]*counter)}

var logger = log.New("logtype", "metric", "pid", strconv.Itoa(os.Getpid()))

type counter struct {
	group string
	name  string
	cnt   int64
	sum   int64
}

type monitor struct {
	mu       sync.Mutex
	counters map[string]*counter
}

// StatInfo is one aggregated counter. Sum holds milliseconds for timed
// events and stays zero for plain ones.
type StatInfo struct {
	Type string
	Name string
	Cnt  int64
	Sum  int64
}

func key(t string, name string) string {
	return t + "-" + name
}

func (self *monitor) add(t string, name string, ms int64) {
	self.mu.Lock()
	defer self.mu.Unlock()
	c, ok := self.counters[key(t, name)]
	if !ok {
		c = &counter{group: t, name: name}
		self.counters[key(t, name)] = c
	}
	c.cnt++
	c.sum += ms
}

// LogEvent counts one occurrence of a named event.
func LogEvent(t string, name string) {
	m.add(t, name, 0)
	logger.Info("", "group", t, "name", name, "metric", 1)
}

// LogTime counts one occurrence and the milliseconds elapsed since tm.
func LogTime(t string, name string, tm time.Time) {
	ms := time.Since(tm).Nanoseconds() / time.Millisecond.Nanoseconds()
	m.add(t, name, ms)
	logger.Info("", "group", t, "name", name, "metric", ms)
}

// Stat snapshots every counter, sorted by group and name.
func Stat() []*StatInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*StatInfo
	for _, c := range m.counters {
		result = append(result, &StatInfo{Type: c.group, Name: c.name, Cnt: c.cnt, Sum: c.sum})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Type != result[j].Type {
			return result[i].Type < result[j].Type
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Reset drops all counters.
func Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]*counter)
}
