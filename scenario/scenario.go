// Package scenario plans the benchmark matrix: the cross product of
// {dataset, distance, contender, oversampling, filtering}, grouped so that
// each distinct index is built exactly once.
package scenario

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/annbench/distance"
)

// Oversampling is the multiplier hint passed to approximate engines: fetch
// oversampling*k internal candidates before trimming to k.
type Oversampling int

// Oversampling factors exercised by default.
const (
	OversamplingX1 Oversampling = 1
	OversamplingX3 Oversampling = 3
)

func (o Oversampling) String() string {
	return fmt.Sprintf("x%d", int(o))
}

// ParseOversampling parses an oversampling factor as used on the command
// line ("1", "x3", ...).
func ParseOversampling(s string) (Oversampling, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "x")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("scenario: invalid oversampling %q", s)
	}
	return Oversampling(n), nil
}

// Filtering selects how much of the dataset remains eligible as query
// candidates. NoFilter means no restriction at all, which is distinct
// from a restriction that happens to be empty.
type Filtering int

const (
	NoFilter Filtering = iota
	Filtered10
	Filtered25
	Filtered50
	Filtered75
	Filtered90
	Filtered100
)

// Ratio returns the eligible fraction of the dataset in [0,1].
func (f Filtering) Ratio() float32 {
	switch f {
	case Filtered10:
		return 0.10
	case Filtered25:
		return 0.25
	case Filtered50:
		return 0.50
	case Filtered75:
		return 0.75
	case Filtered90:
		return 0.90
	case Filtered100:
		return 1.0
	default:
		return 0
	}
}

func (f Filtering) String() string {
	if f == NoFilter {
		return "none"
	}
	return fmt.Sprintf("%.0f%%", f.Ratio()*100)
}

// ParseFiltering parses a filtering name as used on the command line.
func ParseFiltering(s string) (Filtering, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "%") {
	case "none", "nofilter":
		return NoFilter, nil
	case "10":
		return Filtered10, nil
	case "25":
		return Filtered25, nil
	case "50":
		return Filtered50, nil
	case "75":
		return Filtered75, nil
	case "90":
		return Filtered90, nil
	case "100":
		return Filtered100, nil
	default:
		return 0, fmt.Errorf("scenario: unknown filtering %q", s)
	}
}

// Search is the pair of axes that varies within one build group.
type Search struct {
	Oversampling Oversampling
	Filtering    Filtering
}

// Scenario is one cell of the full benchmark matrix.
type Scenario struct {
	Dataset   string
	Metric    distance.Metric
	Contender string
	Search    Search
}

// Group is a maximal run of scenarios sharing (dataset, metric,
// contender). The index for a group is built once; the Search entries are
// evaluated against that single build.
type Group struct {
	Dataset   string
	Metric    distance.Metric
	Contender string
	Search    []Search
}

// Plan builds the cross product of the five axes, orders it, and
// partitions it into build groups. For N datasets, M metrics and C
// contenders it returns exactly N*M*C groups of len(oversamplings) *
// len(filterings) search entries each.
func Plan(datasets []string, metrics []distance.Metric, contenders []string, oversamplings []Oversampling, filterings []Filtering) []Group {
	var cells []Scenario
	for _, d := range datasets {
		for _, m := range metrics {
			for _, c := range contenders {
				for _, o := range oversamplings {
					for _, f := range filterings {
						cells = append(cells, Scenario{
							Dataset:   d,
							Metric:    m,
							Contender: c,
							Search:    Search{Oversampling: o, Filtering: f},
						})
					}
				}
			}
		}
	}

	slices.SortFunc(cells, compareScenarios)

	var groups []Group
	for _, s := range cells {
		n := len(groups)
		if n > 0 && groups[n-1].Dataset == s.Dataset &&
			groups[n-1].Metric == s.Metric &&
			groups[n-1].Contender == s.Contender {
			groups[n-1].Search = append(groups[n-1].Search, s.Search)
			continue
		}
		groups = append(groups, Group{
			Dataset:   s.Dataset,
			Metric:    s.Metric,
			Contender: s.Contender,
			Search:    []Search{s.Search},
		})
	}

	return groups
}

// Filterings returns the distinct filtering modes of the group, in first
// occurrence order. Ground truth is computed once per mode.
func (g *Group) Filterings() []Filtering {
	var modes []Filtering
	for _, s := range g.Search {
		if !slices.Contains(modes, s.Filtering) {
			modes = append(modes, s.Filtering)
		}
	}
	return modes
}

func compareScenarios(a, b Scenario) int {
	if c := cmp.Compare(a.Dataset, b.Dataset); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Metric, b.Metric); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Contender, b.Contender); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Search.Oversampling, b.Search.Oversampling); c != 0 {
		return c
	}
	return cmp.Compare(a.Search.Filtering, b.Search.Filtering)
}
