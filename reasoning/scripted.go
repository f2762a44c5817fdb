package reasoning

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Scripted replays canned responses per task, in order. The last response
// for a task repeats once the script for it is exhausted. It backs the
// offline mode of the CLI and tests.
type Scripted struct {
	mu        sync.Mutex
	responses map[Task][]Response
	calls     map[Task]int
	requests  []Request
}

// Response is one scripted reply.
type Response struct {
	Text string
	Err  error
}

// NewScripted returns an empty script.
func NewScripted() *Scripted {
	return &Scripted{
		responses: map[Task][]Response{},
		calls:     map[Task]int{},
	}
}

// On appends text responses for a task.
func (s *Scripted) On(task Task, texts ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range texts {
		s.responses[task] = append(s.responses[task], Response{Text: t})
	}
	return s
}

// Fail appends an error response for a task.
func (s *Scripted) Fail(task Task, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[task] = append(s.responses[task], Response{Err: err})
	return s
}

func (s *Scripted) Propose(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	script := s.responses[req.Task]
	if len(script) == 0 {
		return "", fmt.Errorf("no scripted response for task %q", req.Task)
	}
	n := s.calls[req.Task]
	s.calls[req.Task] = n + 1
	r := script[min(n, len(script)-1)]
	return r.Text, r.Err
}

// Calls returns how many proposals were requested for a task.
func (s *Scripted) Calls(task Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[task]
}

// Requests returns every request received, in order.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LoadScript reads a YAML file mapping task names to lists of responses:
//
//	detect:
//	  - '{"decision": "planner_ready", "tables": ["album"]}'
//	sql:
//	  - SELECT COUNT(*) FROM album
func LoadScript(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var script map[Task][]string
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse script %s: %w", path, err)
	}
	s := NewScripted()
	for task, texts := range script {
		switch task {
		case TaskDetect, TaskClarify, TaskPlan, TaskSQL, TaskAnswer:
		default:
			return nil, fmt.Errorf("script %s: unknown task %q", path, task)
		}
		s.On(task, texts...)
	}
	return s, nil
}
