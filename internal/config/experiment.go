package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"graphloom/pkg/types"
)

// ExperimentConfig is the declarative record describing one experiment run.
// It is parsed strictly: options outside the declared shape reject the file.
type ExperimentConfig struct {
	Name              string                   `yaml:"name" json:"name"`
	Description       string                   `yaml:"description" json:"description,omitempty"`
	Embedding         EmbeddingSection         `yaml:"embedding" json:"embedding"`
	Chunking          ChunkingSection          `yaml:"chunking" json:"chunking"`
	Retrieval         RetrievalSection         `yaml:"retrieval" json:"retrieval"`
	RelationInference RelationInferenceSection `yaml:"relationInference" json:"relationInference"`
	Validation        ValidationSection        `yaml:"validation" json:"validation"`
	Metadata          MetadataSection          `yaml:"metadata" json:"metadata"`
}

// EmbeddingSection selects the embedding model and batch shape
type EmbeddingSection struct {
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batchSize" json:"batchSize"`
}

// ChunkingSection configures the chunker
type ChunkingSection struct {
	Strategy         string `yaml:"strategy" json:"strategy"`
	MaxChunkSize     int    `yaml:"maxChunkSize" json:"maxChunkSize"`
	Overlap          int    `yaml:"overlap" json:"overlap"`
	PreserveMetadata bool   `yaml:"preserveMetadata" json:"preserveMetadata"`
}

// RetrievalSection configures the retriever adapter
type RetrievalSection struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold" json:"similarityThreshold"`
	ChunkLimit          int     `yaml:"chunkLimit" json:"chunkLimit"`
	IncludeRelations    bool    `yaml:"includeRelations" json:"includeRelations"`
	RelationDepth       int     `yaml:"relationDepth" json:"relationDepth"`
}

// ContrastiveExample is one few-shot pair fed to the LLM judgment prompt
type ContrastiveExample struct {
	Chunk1 string `yaml:"chunk1" json:"chunk1"`
	Chunk2 string `yaml:"chunk2" json:"chunk2"`
}

// ContrastiveExamples groups the positive and negative few-shot pairs
type ContrastiveExamples struct {
	Positive []ContrastiveExample `yaml:"positive" json:"positive"`
	Negative []ContrastiveExample `yaml:"negative" json:"negative"`
}

// LLMSection configures the judgment oracle for contrastive inference
type LLMSection struct {
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"maxTokens" json:"maxTokens"`
	APIKey      string  `yaml:"apiKey" json:"-"` // Never serialize API key
}

// RelationInferenceSection configures the relation inferrer
type RelationInferenceSection struct {
	SimilarityThreshold      float64              `yaml:"similarityThreshold" json:"similarityThreshold"`
	KeywordOverlapThreshold  float64              `yaml:"keywordOverlapThreshold" json:"keywordOverlapThreshold"`
	IncludeInferred          bool                 `yaml:"includeInferred" json:"includeInferred"`
	UseSemanticSimilarity    bool                 `yaml:"useSemanticSimilarity" json:"useSemanticSimilarity"`
	SemanticWeight           float64              `yaml:"semanticWeight" json:"semanticWeight"`
	EnableDuplicateDetection bool                 `yaml:"enableDuplicateDetection" json:"enableDuplicateDetection"`
	UseContrastiveICL        bool                 `yaml:"useContrastiveICL" json:"useContrastiveICL"`
	ContrastiveExamples      *ContrastiveExamples `yaml:"contrastiveExamples" json:"contrastiveExamples,omitempty"`
	LLMConfig                *LLMSection          `yaml:"llmConfig" json:"llmConfig,omitempty"`
	PromptTemplate           string               `yaml:"promptTemplate" json:"promptTemplate,omitempty"`
}

// ValidationSection controls evaluation stages and experiment bookkeeping
type ValidationSection struct {
	RunOnSave          bool     `yaml:"runOnSave" json:"runOnSave"`
	AutoSaveExperiment bool     `yaml:"autoSaveExperiment" json:"autoSaveExperiment"`
	Scenarios          []string `yaml:"scenarios" json:"scenarios"`
}

// MetadataSection carries experiment provenance
type MetadataSection struct {
	Baseline  bool     `yaml:"baseline" json:"baseline"`
	GitCommit string   `yaml:"git_commit" json:"git_commit,omitempty"`
	PaperIDs  []string `yaml:"paper_ids" json:"paper_ids,omitempty"`
}

// DefaultExperimentConfig returns an experiment config with spec defaults
func DefaultExperimentConfig() *ExperimentConfig {
	return &ExperimentConfig{
		Embedding: EmbeddingSection{
			Model:     "text-embedding-3-small",
			BatchSize: 100,
		},
		Chunking: ChunkingSection{
			Strategy:         string(types.ChunkMethodSemantic),
			MaxChunkSize:     1000,
			Overlap:          100,
			PreserveMetadata: true,
		},
		Retrieval: RetrievalSection{
			SimilarityThreshold: 0.7,
			ChunkLimit:          10,
			IncludeRelations:    false,
			RelationDepth:       1,
		},
		RelationInference: RelationInferenceSection{
			SimilarityThreshold:      0.85,
			KeywordOverlapThreshold:  0.65,
			IncludeInferred:          true,
			UseSemanticSimilarity:    false,
			SemanticWeight:           0.7,
			EnableDuplicateDetection: true,
			UseContrastiveICL:        false,
		},
		Validation: ValidationSection{
			RunOnSave:          true,
			AutoSaveExperiment: false,
			Scenarios:          []string{types.ScenarioNormal},
		},
	}
}

// LoadExperimentConfig reads and strictly parses an experiment config file
func LoadExperimentConfig(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- config path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment config: %w", err)
	}
	cfg, err := ParseExperimentConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseExperimentConfig parses YAML into an experiment config. Unknown
// options anywhere in the document are rejected.
func ParseExperimentConfig(data []byte) (*ExperimentConfig, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse experiment config: %w", err)
	}

	cfg := DefaultExperimentConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      cfg,
		ErrorUnused: true,
		TagName:     "yaml",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid experiment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid experiment config: %w", err)
	}
	return cfg, nil
}

// Validate checks thresholds, weights, strategies, and scenario names
func (c *ExperimentConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("experiment name cannot be empty")
	}

	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding model cannot be empty")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding batch size must be positive")
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding dimensions cannot be negative")
	}

	switch types.ChunkMethod(c.Chunking.Strategy) {
	case types.ChunkMethodFixedSize, types.ChunkMethodSemantic, types.ChunkMethodRelational:
		// Valid strategy
	default:
		return fmt.Errorf("invalid chunking strategy: %s", c.Chunking.Strategy)
	}
	if c.Chunking.MaxChunkSize <= 0 {
		return fmt.Errorf("max chunk size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxChunkSize {
		return fmt.Errorf("overlap must be in [0, maxChunkSize): got %d with maxChunkSize %d", c.Chunking.Overlap, c.Chunking.MaxChunkSize)
	}

	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval similarity threshold must be between 0 and 1")
	}
	if c.Retrieval.ChunkLimit <= 0 {
		return fmt.Errorf("retrieval chunk limit must be positive")
	}
	if c.Retrieval.RelationDepth < 0 {
		return fmt.Errorf("relation depth cannot be negative")
	}

	ri := c.RelationInference
	if ri.SimilarityThreshold < 0 || ri.SimilarityThreshold > 1 {
		return fmt.Errorf("relation similarity threshold must be between 0 and 1")
	}
	if ri.KeywordOverlapThreshold < 0 || ri.KeywordOverlapThreshold > 1 {
		return fmt.Errorf("keyword overlap threshold must be between 0 and 1")
	}
	if ri.SemanticWeight < 0 || ri.SemanticWeight > 1 {
		return fmt.Errorf("semantic weight must be between 0 and 1")
	}
	if ri.UseContrastiveICL {
		if ri.LLMConfig == nil || ri.LLMConfig.Model == "" {
			return fmt.Errorf("contrastive inference requires llmConfig.model")
		}
	}

	for _, scenario := range c.Validation.Scenarios {
		if !validScenario(scenario) {
			return fmt.Errorf("unknown scenario: %s", scenario)
		}
	}

	return nil
}

// ToJSON serializes the config for the experiment row's config_json column
func (c *ExperimentConfig) ToJSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to serialize experiment config: %w", err)
	}
	return string(data), nil
}

func validScenario(name string) bool {
	for _, s := range types.AllScenarios() {
		if s == name {
			return true
		}
	}
	return false
}
