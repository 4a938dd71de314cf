package config

// mergeTopics merges built-in and user-defined topic definitions.
// User-defined topics override built-in topics with the same ID.
func mergeTopics(builtinTopics map[string]TopicYAML, userTopics map[string]TopicYAML) map[string]TopicYAML {
	result := make(map[string]TopicYAML)

	// First, add built-in topics
	for id, topic := range builtinTopics {
		result[id] = topic
	}

	// Then, override with user-defined topics (or add new ones)
	for id, userTopic := range userTopics {
		result[id] = userTopic
	}

	return result
}

// mergeModels merges built-in and user-defined model registrations.
// User-defined models override built-in models with the same code.
func mergeModels(builtinModels map[string]ModelConfig, userModels map[string]ModelConfig) map[string]*ModelConfig {
	result := make(map[string]*ModelConfig)

	// First, add built-in models
	for code, model := range builtinModels {
		modelCopy := model
		result[code] = &modelCopy
	}

	// Then, override with user-defined models (or add new ones)
	for code, userModel := range userModels {
		modelCopy := userModel
		result[code] = &modelCopy
	}

	return result
}
