package preview

import (
	"fmt"
	"log/slog"
	"time"
)

// Pipeline executes a sequence of commands on image data
type Pipeline struct {
	commands []Command
}

func NewPipeline(commands ...Command) *Pipeline {
	return &Pipeline{commands: commands}
}

// NewPipelineFromConfig creates every configured command up front so bad
// configuration fails at startup instead of on the first upload.
func NewPipelineFromConfig(registry *CommandRegistry, configs []CommandConfig) (*Pipeline, error) {
	commands := make([]Command, 0, len(configs))
	for i, config := range configs {
		command, err := registry.Create(config.Name, config.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to create command at index %d (%s): %w", i, config.Name, err)
		}
		commands = append(commands, command)
	}
	return NewPipeline(commands...), nil
}

func (p *Pipeline) Len() int {
	return len(p.commands)
}

// Execute applies all commands in order
func (p *Pipeline) Execute(imageData []byte) ([]byte, error) {
	start := time.Now()

	if len(p.commands) == 0 {
		slog.Debug("preview: no commands to execute, returning original image")
		return imageData, nil
	}

	currentData := imageData
	for idx, command := range p.commands {
		processedData, err := command.Execute(currentData)
		if err != nil {
			slog.Error("preview: command execution failed",
				"index", idx,
				"command_name", command.Name(),
				"error", err,
				"input_size_bytes", len(currentData))
			return nil, fmt.Errorf("command %s (index %d) failed: %w", command.Name(), idx, err)
		}
		slog.Debug("preview: command completed",
			"index", idx,
			"command_name", command.Name(),
			"input_size_bytes", len(currentData),
			"output_size_bytes", len(processedData))
		currentData = processedData
	}

	slog.Debug("preview: pipeline completed",
		"total_duration_ms", time.Since(start).Milliseconds(),
		"command_count", len(p.commands),
		"final_size_bytes", len(currentData))
	return currentData, nil
}
