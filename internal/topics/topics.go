// Package topics clusters short documents into topics with TF-IDF vectors and
// k-means, and describes each cluster by its heaviest terms.
package topics

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
)

// ErrNotEnoughDocuments is returned when there is nothing to cluster.
var ErrNotEnoughDocuments = errors.New("not enough documents to model topics")

// Config controls the model. Zero values take defaults.
type Config struct {
	Clusters      int   `mapstructure:"clusters"`
	TopTerms      int   `mapstructure:"top_terms"`
	MaxFeatures   int   `mapstructure:"max_features"`
	MaxIterations int   `mapstructure:"max_iterations"`
	Seed          int64 `mapstructure:"seed"`
}

// DefaultConfig returns the defaults used by the service.
func DefaultConfig() Config {
	return Config{Clusters: 5, TopTerms: 10, MaxFeatures: 1000, MaxIterations: 100, Seed: 42}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Clusters <= 0 {
		c.Clusters = def.Clusters
	}
	if c.TopTerms <= 0 {
		c.TopTerms = def.TopTerms
	}
	if c.MaxFeatures <= 0 {
		c.MaxFeatures = def.MaxFeatures
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	return c
}

// Term is one weighted word of a topic.
type Term struct {
	Word  string  `json:"word"`
	Score float64 `json:"score"`
}

// Topic is one cluster.
type Topic struct {
	ID        int    `json:"id"`
	Terms     []Term `json:"terms"`
	Documents int    `json:"documents"`
}

// Label joins the first n terms of the topic.
func (t Topic) Label(n int) string {
	words := make([]string, 0, n)
	for i := 0; i < len(t.Terms) && i < n; i++ {
		words = append(words, t.Terms[i].Word)
	}
	return strings.Join(words, " • ")
}

// Model clusters docs, each a whitespace-separated list of terms. The number
// of clusters shrinks to the number of distinct documents when there are fewer
// documents than configured clusters. Topic IDs are dense and start at zero.
// The result is deterministic for a given Config.Seed.
func Model(docs []string, cfg Config) ([]Topic, error) {
	cfg = cfg.withDefaults()
	vocab, matrix := vectorize(docs, cfg.MaxFeatures)
	if len(matrix) == 0 || len(vocab) == 0 {
		return nil, ErrNotEnoughDocuments
	}

	k := min(cfg.Clusters, len(matrix))
	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15))
	centroids := seed(matrix, k, rng)
	assign := cluster(matrix, centroids, cfg.MaxIterations)

	counts := make([]int, len(centroids))
	for _, c := range assign {
		counts[c]++
	}
	var out []Topic
	for c, centroid := range centroids {
		if counts[c] == 0 {
			continue
		}
		out = append(out, Topic{
			ID:        len(out),
			Terms:     topTerms(centroid, vocab, cfg.TopTerms),
			Documents: counts[c],
		})
	}
	return out, nil
}

// vectorize builds L2-normalised TF-IDF rows, skipping empty documents. The
// vocabulary keeps the maxFeatures most frequent terms.
func vectorize(docs []string, maxFeatures int) ([]string, [][]float64) {
	var tokenized [][]string
	freq := map[string]int{}
	df := map[string]int{}
	for _, doc := range docs {
		tokens := strings.Fields(doc)
		if len(tokens) == 0 {
			continue
		}
		tokenized = append(tokenized, tokens)
		seen := map[string]bool{}
		for _, tok := range tokens {
			freq[tok]++
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}
	if len(tokenized) == 0 {
		return nil, nil
	}

	vocab := make([]string, 0, len(freq))
	for w := range freq {
		vocab = append(vocab, w)
	}
	sort.Slice(vocab, func(i, j int) bool {
		if freq[vocab[i]] != freq[vocab[j]] {
			return freq[vocab[i]] > freq[vocab[j]]
		}
		return vocab[i] < vocab[j]
	})
	if len(vocab) > maxFeatures {
		vocab = vocab[:maxFeatures]
	}
	sort.Strings(vocab)
	index := make(map[string]int, len(vocab))
	for i, w := range vocab {
		index[w] = i
	}

	n := float64(len(tokenized))
	idf := make([]float64, len(vocab))
	for i, w := range vocab {
		idf[i] = math.Log((1+n)/(1+float64(df[w]))) + 1
	}

	matrix := make([][]float64, 0, len(tokenized))
	for _, tokens := range tokenized {
		row := make([]float64, len(vocab))
		for _, tok := range tokens {
			if i, ok := index[tok]; ok {
				row[i]++
			}
		}
		var norm float64
		for i := range row {
			row[i] *= idf[i]
			norm += row[i] * row[i]
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for i := range row {
			row[i] /= norm
		}
		matrix = append(matrix, row)
	}
	return vocab, matrix
}

// seed picks k initial centroids with k-means++. Fewer are returned when the
// remaining points all coincide with chosen centroids.
func seed(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := [][]float64{clone(points[rng.IntN(len(points))])}
	dist := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			dist[i] = math.Inf(1)
			for _, c := range centroids {
				dist[i] = math.Min(dist[i], sqDist(p, c))
			}
			total += dist[i]
		}
		if total <= 1e-12 {
			break
		}
		target := rng.Float64() * total
		chosen := -1
		for i, d := range dist {
			if d <= 0 {
				continue
			}
			chosen = i
			target -= d
			if target <= 0 {
				break
			}
		}
		centroids = append(centroids, clone(points[chosen]))
	}
	return centroids
}

// cluster runs Lloyd iterations in place and returns the final assignment.
func cluster(points, centroids [][]float64, maxIter int) []int {
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}
	dims := len(points[0])
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := sqDist(p, centroid); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		for c := range centroids {
			sum := make([]float64, dims)
			count := 0
			for i, p := range points {
				if assign[i] != c {
					continue
				}
				count++
				for d := range p {
					sum[d] += p[d]
				}
			}
			if count == 0 {
				continue
			}
			for d := range sum {
				sum[d] /= float64(count)
			}
			centroids[c] = sum
		}
	}
	return assign
}

func topTerms(centroid []float64, vocab []string, n int) []Term {
	terms := make([]Term, 0, len(vocab))
	for i, w := range centroid {
		if w > 0 {
			terms = append(terms, Term{Word: vocab[i], Score: w})
		}
	}
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Score != terms[j].Score {
			return terms[i].Score > terms[j].Score
		}
		return terms[i].Word < terms[j].Word
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
