package bench

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type timedPhase struct {
	start time.Time
	end   time.Time
}

func (p timedPhase) duration() time.Duration {
	return p.end.Sub(p.start)
}

// IndexingMetrics records the timing and size figures of one chunked index
// build. The driving loop brackets each chunk's insert and build phases in
// strict alternation and feeds back the resulting tree count, cumulative
// vector count and database size after every chunk.
//
// The collector is owned by the single goroutine driving the build; it is
// not safe for concurrent use. Calling an End method without its matching
// Start (or vice versa) is a programming error and panics.
type IndexingMetrics struct {
	started time.Time
	ended   time.Time

	insertions []timedPhase
	buildings  []timedPhase

	nbVectors []int
	nbTrees   []int
	dbSizes   []uint64
}

// NewIndexingMetrics starts the total-elapsed clock.
func NewIndexingMetrics() *IndexingMetrics {
	return &IndexingMetrics{started: time.Now()}
}

// StartInsertion opens the insert phase of the next chunk.
func (m *IndexingMetrics) StartInsertion() {
	if len(m.insertions) != len(m.buildings) {
		panic("bench: StartInsertion called before the previous chunk completed")
	}
	m.insertions = append(m.insertions, timedPhase{start: time.Now()})
}

// EndInsertion closes the current chunk's insert phase.
func (m *IndexingMetrics) EndInsertion() {
	last := len(m.insertions) - 1
	if last < 0 || last != len(m.buildings) || !m.insertions[last].end.IsZero() {
		panic("bench: EndInsertion without matching StartInsertion")
	}
	m.insertions[last].end = time.Now()
}

// StartBuilding opens the current chunk's build phase.
func (m *IndexingMetrics) StartBuilding() {
	last := len(m.insertions) - 1
	if last < 0 || last != len(m.buildings) || m.insertions[last].end.IsZero() {
		panic("bench: StartBuilding before the chunk's insertion completed")
	}
	m.buildings = append(m.buildings, timedPhase{start: time.Now()})
}

// EndBuilding closes the current chunk's build phase.
func (m *IndexingMetrics) EndBuilding() {
	last := len(m.buildings) - 1
	if last < 0 || !m.buildings[last].end.IsZero() {
		panic("bench: EndBuilding without matching StartBuilding")
	}
	m.buildings[last].end = time.Now()
}

// NewNbVectors records the cumulative vector count after a chunk.
func (m *IndexingMetrics) NewNbVectors(n int) {
	m.nbVectors = append(m.nbVectors, n)
}

// NewNbTrees records the tree count after a chunk's build.
func (m *IndexingMetrics) NewNbTrees(n int) {
	m.nbTrees = append(m.nbTrees, n)
}

// NewDatabaseSize records the on-disk byte size after a chunk's build.
func (m *IndexingMetrics) NewDatabaseSize(bytes uint64) {
	m.dbSizes = append(m.dbSizes, bytes)
}

// End stops the total-elapsed clock.
func (m *IndexingMetrics) End() {
	m.ended = time.Now()
}

// TotalDuration is the elapsed time from creation to End (or to now if End
// has not been called yet).
func (m *IndexingMetrics) TotalDuration() time.Duration {
	if m.ended.IsZero() {
		return time.Since(m.started)
	}
	return m.ended.Sub(m.started)
}

// Chunks is the number of fully recorded chunks.
func (m *IndexingMetrics) Chunks() int {
	return len(m.buildings)
}

// NbVectors returns the cumulative vector counts per chunk.
func (m *IndexingMetrics) NbVectors() []int { return m.nbVectors }

// NbTrees returns the tree counts per chunk.
func (m *IndexingMetrics) NbTrees() []int { return m.nbTrees }

// DatabaseSizes returns the on-disk byte sizes per chunk.
func (m *IndexingMetrics) DatabaseSizes() []uint64 { return m.dbSizes }

// TotalInsertionTime sums all insert phases.
func (m *IndexingMetrics) TotalInsertionTime() time.Duration {
	var total time.Duration
	for _, p := range m.insertions {
		total += p.duration()
	}
	return total
}

// TotalBuildTime sums all build phases.
func (m *IndexingMetrics) TotalBuildTime() time.Duration {
	var total time.Duration
	for _, p := range m.buildings {
		total += p.duration()
	}
	return total
}

var metricsRowLabels = [...]string{
	"number of vectors",
	"insertion time",
	"build time",
	"number of trees",
	"database size",
}

// Render produces a column-aligned table: the total elapsed time, then one
// column per chunk across five rows (vector counts, insertion durations,
// build durations, tree counts, database sizes). Every cell of a column is
// padded to the widest value in that column so the rows line up.
func (m *IndexingMetrics) Render() string {
	chunks := m.Chunks()

	rows := make([][]string, len(metricsRowLabels))
	for i := range rows {
		rows[i] = make([]string, chunks)
	}

	for c := 0; c < chunks; c++ {
		rows[0][c] = cellOrEmpty(m.nbVectors, c, strconv.Itoa)
		rows[1][c] = m.insertions[c].duration().Round(time.Millisecond).String()
		rows[2][c] = m.buildings[c].duration().Round(time.Millisecond).String()
		rows[3][c] = cellOrEmpty(m.nbTrees, c, strconv.Itoa)
		rows[4][c] = cellOrEmpty(m.dbSizes, c, func(b uint64) string {
			return humanize.IBytes(b)
		})
	}

	widths := make([]int, chunks)
	for c := 0; c < chunks; c++ {
		for _, row := range rows {
			if len(row[c]) > widths[c] {
				widths[c] = len(row[c])
			}
		}
	}

	labelWidth := 0
	for _, l := range metricsRowLabels {
		if len(l) > labelWidth {
			labelWidth = len(l)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "total indexing time: %s\n", m.TotalDuration().Round(time.Millisecond))

	for i, row := range rows {
		fmt.Fprintf(&sb, "%-*s:", labelWidth, metricsRowLabels[i])
		for c, cell := range row {
			fmt.Fprintf(&sb, " %*s", widths[c], cell)
		}
		sb.WriteByte('\n')
	}

	return sb.String()
}

func cellOrEmpty[T any](values []T, i int, format func(T) string) string {
	if i >= len(values) {
		return ""
	}
	return format(values[i])
}
