package config

// Source kinds.
const (
	SourceKindHTTP = "http"
	SourceKindDir  = "dir"
)

const (
	defaultDataDir              = "~/.local/share/storyloom"
	defaultLogDir               = "~/.local/share/storyloom/logs"
	defaultArtifactDir          = "~/.local/share/storyloom/artifacts"
	defaultAPIBind              = "127.0.0.1:7491"
	defaultSourceURLTemplate    = "https://www.gutenberg.org/cache/epub/{id}/pg{id}.txt"
	defaultSourceDir            = "~/.local/share/storyloom/sources"
	defaultSourceTimeoutSeconds = 60
	defaultSourceUserAgent      = "storyloom/dev"
	defaultWordsPerSequence     = 150
	defaultInitialBatch         = 8
	defaultImageStyle           = "Detailed storybook illustration, muted palette, no text."
	defaultScenePrompt          = "Describe the single most visual moment of this passage in two sentences for an illustrator. Mention setting, characters and lighting. Do not quote the text."
	defaultPollIntervalMillis   = 500
	defaultQueueMaxAttempts     = 5
	defaultQueueLeaseSeconds    = 120
	defaultBackoffInitialMS     = 2000
	defaultBackoffMaxMS         = 300000
	defaultRetryMaxAttempts     = 4
	defaultRetryInitialDelayMS  = 500
	defaultRetryMaxDelayMS      = 30000
	defaultCallTimeoutSeconds   = 120
	defaultOpenAIBaseURL        = "https://api.openai.com/v1"
	defaultSpeechModel          = "gpt-4o-mini-tts"
	defaultVoice                = "alloy"
	defaultAudioFormat          = "mp3"
	defaultChatModel            = "gpt-4o-mini"
	defaultImageModel           = "gpt-image-1"
	defaultImageSize            = "1024x1024"
	defaultRequestsPerSecond    = 2
	defaultSweepSchedule        = "@every 5m"
	defaultStaleAfterMinutes    = 15
	defaultRetentionHours       = 24
	defaultNotifyTimeoutSeconds = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			LogDir:      defaultLogDir,
			ArtifactDir: defaultArtifactDir,
			APIBind:     defaultAPIBind,
		},
		Source: Source{
			Kind:           SourceKindHTTP,
			URLTemplate:    defaultSourceURLTemplate,
			Dir:            defaultSourceDir,
			TimeoutSeconds: defaultSourceTimeoutSeconds,
			UserAgent:      defaultSourceUserAgent,
		},
		Pipeline: Pipeline{
			WordsPerSequence: defaultWordsPerSequence,
			InitialBatch:     defaultInitialBatch,
			AutoTopUp:        true,
			ImageStyle:       defaultImageStyle,
			ScenePrompt:      defaultScenePrompt,
		},
		Workers: Workers{
			SequenceProcessing: 2,
			AudioGeneration:    2,
			SceneAnalysis:      2,
			ImageGeneration:    1,
			Sweep:              1,
			PollIntervalMillis: defaultPollIntervalMillis,
		},
		Queue: Queue{
			MaxAttempts:      defaultQueueMaxAttempts,
			LeaseSeconds:     defaultQueueLeaseSeconds,
			BackoffInitialMS: defaultBackoffInitialMS,
			BackoffMaxMS:     defaultBackoffMaxMS,
		},
		Retry: Retry{
			MaxAttempts:        defaultRetryMaxAttempts,
			InitialDelayMS:     defaultRetryInitialDelayMS,
			MaxDelayMS:         defaultRetryMaxDelayMS,
			CallTimeoutSeconds: defaultCallTimeoutSeconds,
		},
		OpenAI: OpenAI{
			BaseURL:           defaultOpenAIBaseURL,
			SpeechModel:       defaultSpeechModel,
			Voice:             defaultVoice,
			AudioFormat:       defaultAudioFormat,
			ChatModel:         defaultChatModel,
			ImageModel:        defaultImageModel,
			ImageSize:         defaultImageSize,
			RequestsPerSecond: defaultRequestsPerSecond,
		},
		Sweep: Sweep{
			Schedule:          defaultSweepSchedule,
			StaleAfterMinutes: defaultStaleAfterMinutes,
			RetentionHours:    defaultRetentionHours,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
			SequenceFailures:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
