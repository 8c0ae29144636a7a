package evaluation

import (
	"sort"

	"graphloom/pkg/types"
)

// topDegreeCount bounds the per-node degree listing in the graph report
const topDegreeCount = 3

// DegreeEntry names one node and its undirected degree
type DegreeEntry struct {
	ID     string `json:"id"`
	Degree int    `json:"degree"`
}

// GraphReport describes the undirected topology of the relation graph
type GraphReport struct {
	NodeCount                int           `json:"node_count"`
	EdgeCount                int           `json:"edge_count"`
	GraphDensity             float64       `json:"graph_density"`
	AvgClusteringCoefficient float64       `json:"avg_clustering_coefficient"`
	ConnectedComponents      int           `json:"connected_components"`
	AvgDegree                float64       `json:"avg_degree"`
	MaxDegree                int           `json:"max_degree"`
	TopNodesByDegree         []DegreeEntry `json:"top_nodes_by_degree"`
}

// EvaluateGraph reports topology metrics over the relation set treated as an
// undirected simple graph: bidirectional emissions and repeated edges over
// the same pair collapse to one edge, self-loops are dropped. avg_degree
// uses the undirected form 2E/N.
func EvaluateGraph(relations []types.Relation) GraphReport {
	adjacency := make(map[string]map[string]struct{})
	edges := make(map[string]struct{})

	for i := range relations {
		rel := &relations[i]
		if rel.FromID == "" || rel.ToID == "" || rel.FromID == rel.ToID {
			continue
		}
		key := rel.PairKey()
		if _, dup := edges[key]; dup {
			continue
		}
		edges[key] = struct{}{}
		addEdge(adjacency, rel.FromID, rel.ToID)
		addEdge(adjacency, rel.ToID, rel.FromID)
	}

	report := GraphReport{
		NodeCount: len(adjacency),
		EdgeCount: len(edges),
	}
	if report.NodeCount == 0 {
		report.TopNodesByDegree = []DegreeEntry{}
		return report
	}

	n := float64(report.NodeCount)
	e := float64(report.EdgeCount)
	if report.NodeCount > 1 {
		report.GraphDensity = e / (n * (n - 1) / 2)
	}
	report.AvgDegree = 2 * e / n

	degrees := make([]DegreeEntry, 0, len(adjacency))
	for id, neighbors := range adjacency {
		degrees = append(degrees, DegreeEntry{ID: id, Degree: len(neighbors)})
		if len(neighbors) > report.MaxDegree {
			report.MaxDegree = len(neighbors)
		}
	}
	sort.Slice(degrees, func(i, j int) bool {
		if degrees[i].Degree != degrees[j].Degree {
			return degrees[i].Degree > degrees[j].Degree
		}
		return degrees[i].ID < degrees[j].ID
	})
	top := topDegreeCount
	if len(degrees) < top {
		top = len(degrees)
	}
	report.TopNodesByDegree = degrees[:top]

	report.AvgClusteringCoefficient = avgClustering(adjacency)
	report.ConnectedComponents = countComponents(adjacency)
	return report
}

func addEdge(adjacency map[string]map[string]struct{}, from, to string) {
	if adjacency[from] == nil {
		adjacency[from] = make(map[string]struct{})
	}
	adjacency[from][to] = struct{}{}
}

// avgClustering averages neighbor_edges/C(k,2) over nodes of degree two or
// more. A graph without such nodes scores 0.
func avgClustering(adjacency map[string]map[string]struct{}) float64 {
	var sum float64
	counted := 0
	for _, neighbors := range adjacency {
		k := len(neighbors)
		if k < 2 {
			continue
		}
		counted++

		ids := make([]string, 0, k)
		for id := range neighbors {
			ids = append(ids, id)
		}
		neighborEdges := 0
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				if _, ok := adjacency[ids[i]][ids[j]]; ok {
					neighborEdges++
				}
			}
		}
		possible := float64(k*(k-1)) / 2
		sum += float64(neighborEdges) / possible
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}

// countComponents counts connected components with an iterative DFS.
func countComponents(adjacency map[string]map[string]struct{}) int {
	visited := make(map[string]struct{}, len(adjacency))
	components := 0
	for start := range adjacency {
		if _, done := visited[start]; done {
			continue
		}
		components++
		stack := []string{start}
		for len(stack) > 0 {
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, done := visited[node]; done {
				continue
			}
			visited[node] = struct{}{}
			for neighbor := range adjacency[node] {
				if _, done := visited[neighbor]; !done {
					stack = append(stack, neighbor)
				}
			}
		}
	}
	return components
}
