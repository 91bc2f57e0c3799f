// Package provider selects and constructs the LLM chat-model backend at
// runtime. Supported backends: OpenAI, Ollama, Azure OpenAI, AWS Bedrock,
// Google Gemini.
package provider

import (
	"fmt"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOpenAI holds OpenAI-specific settings.
type ProviderOpenAI struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the model name (e.g. "gpt-4o-mini").
	Model string
}

// ProviderOllama holds Ollama-specific settings.
type ProviderOllama struct {
	// Host is the Ollama API endpoint.
	Host string
	// Model is the Ollama model name.
	Model string
}

// ProviderAzureOpenAI holds Azure OpenAI-specific settings.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI API key.
	APIKey string
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string
	// Deployment is the deployment name the requests target.
	Deployment string
	// APIVersion is the Azure OpenAI REST API version.
	APIVersion string
}

// ProviderBedrock holds AWS Bedrock-specific settings. AWS credentials are
// resolved via the standard SDK credential chain, never via this struct.
type ProviderBedrock struct {
	// AWSRegion is the AWS region hosting the model.
	AWSRegion string
	// ModelID is the Bedrock model identifier.
	ModelID string
	// Endpoint overrides the Bedrock-compatible runtime endpoint.
	Endpoint string
	// APIKey authenticates against the Bedrock-compatible runtime.
	APIKey string
}

// ProviderGemini holds Google Gemini-specific settings.
type ProviderGemini struct {
	// APIKey is the Google API key.
	APIKey string
	// Model is the Gemini model name (e.g. "gemini-1.5-pro").
	Model string
}

// SharedTuning holds generation parameters applied to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Exactly one backend section
// is consulted, selected by Backend.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// OpenAI holds the OpenAI backend settings.
	OpenAI ProviderOpenAI

	// Ollama holds the Ollama backend settings.
	Ollama ProviderOllama

	// AzureOpenAI holds the Azure OpenAI backend settings.
	AzureOpenAI ProviderAzureOpenAI

	// Bedrock holds the AWS Bedrock backend settings.
	Bedrock ProviderBedrock

	// Gemini holds the Google Gemini backend settings.
	Gemini ProviderGemini

	// Tuning holds the shared generation parameters.
	Tuning SharedTuning
}

// Validate checks that the selected backend has the credentials and settings
// it needs. Validation happens at startup so misconfiguration fails fast
// instead of on the first request.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for the openai backend")
		}
	case BackendOllama:
		if c.Ollama.Host == "" {
			return fmt.Errorf("provider: OLLAMA_HOST is required for the ollama backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for the azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for the azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for the azure backend")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return fmt.Errorf("provider: BEDROCK_MODEL_ID is required for the bedrock backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for the gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q — valid values: openai, ollama, azure, bedrock, gemini", c.Backend)
	}
	return nil
}
