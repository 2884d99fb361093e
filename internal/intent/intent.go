package intent

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Match 是一次语义检索的单条结果。
type Match struct {
	AgentID string
	Command string
	Score   float64
}

// Index 定义意图检索的统一接口。
type Index interface {
	Search(ctx context.Context, query string, topK int) ([]Match, error)
}

// Entry 描述语料中的一个智能体：标识、兜底命令与示例话术。
type Entry struct {
	AgentID string   `yaml:"agent_id"`
	Command string   `yaml:"command"`
	Samples []string `yaml:"samples"`
}

// Corpus 对应 configs/agents.yaml 的文件结构。
type Corpus struct {
	Agents []Entry `yaml:"agents"`
}

// LoadCorpus 解析智能体语料文件。
func LoadCorpus(path string) (Corpus, error) {
	if strings.TrimSpace(path) == "" {
		return Corpus{}, fmt.Errorf("语料文件路径不能为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Corpus{}, fmt.Errorf("读取语料文件失败: %w", err)
	}
	var corpus Corpus
	if err := yaml.Unmarshal(content, &corpus); err != nil {
		return Corpus{}, fmt.Errorf("解析语料文件失败: %w", err)
	}
	return corpus, nil
}

// Embedder 抽象文本向量化能力。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingIndex 对语料做向量检索：示例话术在首次查询时向量化并缓存，
// 查询得分取该智能体全部示例中的最大余弦相似度。
type EmbeddingIndex struct {
	embedder Embedder
	corpus   Corpus

	mu      sync.Mutex
	vectors map[string][][]float32
}

// NewEmbeddingIndex 创建向量意图索引。
func NewEmbeddingIndex(embedder Embedder, corpus Corpus) (*EmbeddingIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("未配置向量化客户端")
	}
	if len(corpus.Agents) == 0 {
		return nil, fmt.Errorf("语料为空")
	}
	return &EmbeddingIndex{
		embedder: embedder,
		corpus:   corpus,
		vectors:  make(map[string][][]float32),
	}, nil
}

// Search 返回与查询最相似的智能体，按得分降序排列。
func (i *EmbeddingIndex) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 3
	}

	queryVec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	matches := make([]Match, 0, len(i.corpus.Agents))
	for _, entry := range i.corpus.Agents {
		vectors, err := i.sampleVectors(ctx, entry)
		if err != nil {
			return nil, err
		}
		best := 0.0
		for _, vec := range vectors {
			if score := cosine(queryVec, vec); score > best {
				best = score
			}
		}
		matches = append(matches, Match{
			AgentID: entry.AgentID,
			Command: entry.Command,
			Score:   best,
		})
	}

	sort.Slice(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (i *EmbeddingIndex) sampleVectors(ctx context.Context, entry Entry) ([][]float32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if cached, ok := i.vectors[entry.AgentID]; ok {
		return cached, nil
	}
	vectors := make([][]float32, 0, len(entry.Samples))
	for _, sample := range entry.Samples {
		vec, err := i.embedder.Embed(ctx, sample)
		if err != nil {
			return nil, fmt.Errorf("语料向量化失败 (%s): %w", entry.AgentID, err)
		}
		vectors = append(vectors, vec)
	}
	i.vectors[entry.AgentID] = vectors
	return vectors, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for idx := range a {
		dot += float64(a[idx]) * float64(b[idx])
		normA += float64(a[idx]) * float64(a[idx])
		normB += float64(b[idx]) * float64(b[idx])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
