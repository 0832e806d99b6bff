package agent

import (
	"context"
	"log"
	"time"

	"github.com/tanvi/sahayak/internal/store"
)

// Messenger pushes scheduler output back to the user.
type Messenger interface {
	Send(chatID string, text string) error
}

// InstructionRunner is the slice of the router the scheduler needs.
type InstructionRunner interface {
	Route(ctx context.Context, chatID, instruction string) Response
}

// TaskStore supplies saved instructions due for re-dispatch.
type TaskStore interface {
	GetPendingTasks(ctx context.Context) ([]store.Task, error)
	UpdateTaskLastRun(ctx context.Context, id int) error
	DeleteTask(ctx context.Context, chatID string, taskID int) error
}

// Scheduler re-dispatches saved instructions through the router on an
// interval and pushes the results out the gateway.
type Scheduler struct {
	Runner  InstructionRunner
	Store   TaskStore
	Gateway Messenger
}

func NewScheduler(runner InstructionRunner, taskStore TaskStore, gateway Messenger) *Scheduler {
	return &Scheduler{Runner: runner, Store: taskStore, Gateway: gateway}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	log.Println("Task scheduler started...")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollAndExecute(ctx)
		}
	}
}

func (s *Scheduler) pollAndExecute(ctx context.Context) {
	tasks, err := s.Store.GetPendingTasks(ctx)
	if err != nil {
		log.Printf("Error polling tasks: %v", err)
		return
	}

	for _, t := range tasks {
		log.Printf("Executing scheduled instruction %d for chat %s: %s", t.ID, t.ChatID, t.Instruction)

		resp := s.Runner.Route(ctx, t.ChatID, t.Instruction)

		if err := s.Store.UpdateTaskLastRun(ctx, t.ID); err != nil {
			log.Printf("Error updating last run for task %d: %v", t.ID, err)
		}

		// One-time tasks (interval 0) are removed after their single run.
		if t.IntervalSeconds == 0 {
			if err := s.Store.DeleteTask(ctx, t.ChatID, t.ID); err != nil {
				log.Printf("Error deleting one-time task %d: %v", t.ID, err)
			}
		}

		if s.Gateway != nil {
			text := resp.Result
			if !resp.Success && resp.Err != "" {
				text = resp.Result + "\n(" + resp.Err + ")"
			}
			s.Gateway.Send(t.ChatID, "⏰ Scheduled instruction result\n\n"+text)
		}
	}
}
