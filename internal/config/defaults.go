package config

const (
	defaultDataDir                  = "~/.local/share/bandaid"
	defaultLogDir                   = "~/.local/share/bandaid/logs"
	defaultAPIBind                  = "127.0.0.1:7619"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultExtractionBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultExtractionModel          = "google/gemini-3-flash-preview"
	defaultExtractionTimeoutSeconds = 60
	defaultCatalogBaseURL           = "https://api.spotify.com/v1"
	defaultCatalogTokenURL          = "https://accounts.spotify.com/api/token"
	defaultCatalogMarket            = "US"
	defaultCatalogTimeoutSeconds    = 30
	defaultPlaylistNamePrefix       = "Poster: "
	defaultIngestTopic              = "poster-uploads"
	defaultIngestGroupID            = "bandaid"
	defaultEnrichmentWorkers        = 4
	defaultStepTimeoutSeconds       = 120
	defaultRetryMaxAttempts         = 5
	defaultRetryBaseDelayMS         = 500
	defaultRetryMaxDelayMS          = 30000
	defaultPollInterval             = 5
	defaultErrorRetryInterval       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Extraction: Extraction{
			BaseURL:        defaultExtractionBaseURL,
			Model:          defaultExtractionModel,
			TimeoutSeconds: defaultExtractionTimeoutSeconds,
		},
		Catalog: Catalog{
			BaseURL:            defaultCatalogBaseURL,
			TokenURL:           defaultCatalogTokenURL,
			Market:             defaultCatalogMarket,
			TimeoutSeconds:     defaultCatalogTimeoutSeconds,
			PlaylistNamePrefix: defaultPlaylistNamePrefix,
		},
		Ingest: Ingest{
			Topic:   defaultIngestTopic,
			GroupID: defaultIngestGroupID,
		},
		Enrichment: Enrichment{
			Workers:            defaultEnrichmentWorkers,
			StepTimeoutSeconds: defaultStepTimeoutSeconds,
			RetryMaxAttempts:   defaultRetryMaxAttempts,
			RetryBaseDelayMS:   defaultRetryBaseDelayMS,
			RetryMaxDelayMS:    defaultRetryMaxDelayMS,
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
