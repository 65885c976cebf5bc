package absorption

import (
	"strings"
)

const (
	maxTasksPerType  = 3
	maxTasksPerSuite = 10
	// a task counts as correct above this similarity to its expected output
	similarityThreshold = 0.8
)

// Task is one probe sent to a capability
type Task struct {
	Type      string                 `json:"task_type,omitempty"`
	Prompt    string                 `json:"prompt"`
	MaxTokens int                    `json:"max_tokens,omitempty"`
	Expected  string                 `json:"expected_output,omitempty"`
	Input     map[string]interface{} `json:"input_data,omitempty"`
}

var suites = map[string][]Task{
	"generation": {
		{Type: "creative_writing", Prompt: "Write a creative story about a robot learning to paint.", MaxTokens: 200},
		{Type: "explanation", Prompt: "Explain quantum computing in simple terms.", MaxTokens: 150},
		{Type: "business_writing", Prompt: "Generate a professional email declining a meeting invitation.", MaxTokens: 100},
	},
	"analysis": {
		{Type: "sentiment_analysis", Prompt: `Analyze the sentiment of this text: "I absolutely love this new product! It exceeded all my expectations."`, Expected: "positive"},
		{Type: "topic_classification", Prompt: `What is the main topic of this paragraph: "Climate change continues to impact global weather patterns, leading to more frequent extreme weather events."`, Expected: "climate change"},
	},
	"retrieval": {
		{Type: "factual_retrieval", Prompt: "Find information about the capital of France.", Expected: "Paris"},
	},
	"reasoning": {
		{Type: "logical_reasoning", Prompt: "If all birds can fly and penguins are birds, can penguins fly? Explain your reasoning."},
		{Type: "word_problem", Prompt: "A train leaves Station A at 2 PM traveling at 60 mph. Another train leaves Station B at 3 PM traveling at 80 mph toward Station A. If the stations are 200 miles apart, when will the trains meet?"},
	},
	"code": {
		{Type: "code_generation", Prompt: "Write a Python function to calculate the factorial of a number."},
		{Type: "code_debugging", Prompt: "Debug this Python code: def add_numbers(a, b): return a + b + c"},
	},
	"math": {
		{Type: "algebra", Prompt: "Solve: 2x + 5 = 13", Expected: "x = 4"},
		{Type: "calculus", Prompt: "What is the derivative of x^2 + 3x + 1?", Expected: "2x + 3"},
	},
	"unknown": {
		{Type: "general_interaction", Prompt: "Hello, how are you?"},
	},
}

// TasksFor builds the suite for a capability's task types: up to three tasks
// per type, ten in total. Unknown types get the generic suite.
func TasksFor(taskTypes []string) []Task {
	if len(taskTypes) == 0 {
		taskTypes = []string{"unknown"}
	}

	var tasks []Task
	for _, tt := range taskTypes {
		suite, ok := suites[tt]
		if !ok {
			suite = suites["unknown"]
		}
		tasks = append(tasks, suite[:min(len(suite), maxTasksPerType)]...)
	}
	return tasks[:min(len(tasks), maxTasksPerSuite)]
}

// Similarity is the Jaccard index of the lowercased word sets
func Similarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)

	union := len(wa)
	inter := 0
	for w := range wb {
		if wa[w] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

// Accuracy is the share of tasks with an expected output whose answer is
// similar enough to it. Tasks without an expected output are not scored;
// a missing answer counts as wrong.
func Accuracy(tasks []Task, answers []string) float64 {
	scored, correct := 0, 0
	for i, task := range tasks {
		if task.Expected == "" {
			continue
		}
		scored++
		if i < len(answers) && Similarity(task.Expected, answers[i]) > similarityThreshold {
			correct++
		}
	}
	if scored == 0 {
		return 0
	}
	return float64(correct) / float64(scored)
}
