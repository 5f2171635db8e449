package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		FingerprintDBPath: "fingerprints.db",
		Audio: AudioConfig{
			DeviceName:    "",
			SampleRate:    48000,
			Channels:      2,
			ChunkSize:     1024,
			VolumePercent: 100,
			BufferSeconds: 10,
		},
		Model: ModelConfig{
			UseCLAP:           true,
			ClapThreshold:     0.6,
			BirdVetoThreshold: 0.5,
			MinHarmonicRatio:  1.5,
			HarmonicEnabled:   false,
			VADEnabled:        true,
			VADThresholdDB:    -40.0,
			TaggerEnabled:     true,
			TaggerThreshold:   0.05,
			PositiveLabels: []string{
				"dog barking",
				"dog growling",
				"dog whimpering",
				"puppy barking",
			},
			NegativeLabels: []string{
				"human speech",
				"human voice",
				"person talking",
				"background noise",
				"silence",
				"music",
			},
			BirdLabels: []string{
				"bird chirping",
				"bird song",
			},
			TargetSampleRate: 16000,

			OnnxLibPath:     "/usr/lib/libonnxruntime.so",
			ClassifierModel: "models/clap_classifier.onnx",
			TaggerModel:     "models/clap_tagger.onnx",
			EmbedderModel:   "models/bark_embedder.onnx",
			EmbeddingDim:    512,
		},
		DOA: DOAConfig{
			Enabled:        true,
			ElementSpacing: 0.1,
			NumElements:    2,
			AngleMin:       0,
			AngleMax:       180,
			Method:         "bartlett",
		},
		Evidence: EvidenceConfig{
			Directory:            "evidence",
			PastContextSeconds:   5,
			FutureContextSeconds: 10,
			IncludeMetadata:      true,
			AutoRecord:           true,
		},
		Webhook: WebhookConfig{
			Enabled:         false,
			TimeoutSeconds:  10,
			RetryCount:      2,
			DebounceSeconds: 300,
		},
		QuietHours: QuietHoursConfig{
			Enabled:       false,
			Start:         "22:00",
			End:           "06:00",
			Threshold:     0.9,
			Notifications: false,
			Timezone:      "UTC",
		},
	}
}
