package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arjunmehta/relay/pkg/bus"
	"github.com/arjunmehta/relay/pkg/cron"
)

const cronJobTimeout = 5 * time.Minute

// JobExecutor runs a cron job's message through the agent loop on the job's
// own session, separate from whatever session triggered the schedule.
type JobExecutor interface {
	ProcessDirectWithChannel(ctx context.Context, content, sessionKey, channel, chatID string) (string, error)
}

// CronTool lets the agent schedule, list, and manage recurring or one-shot
// reminders/tasks against a CronService.
type CronTool struct {
	service  *cron.CronService
	executor JobExecutor
	msgBus   *bus.MessageBus
}

func NewCronTool(service *cron.CronService, executor JobExecutor, msgBus *bus.MessageBus) *CronTool {
	return &CronTool{service: service, executor: executor, msgBus: msgBus}
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Description() string {
	return "Schedule, list, or manage reminders and recurring tasks (actions: add, list, remove, enable, disable)"
}

func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"add", "list", "remove", "enable", "disable"},
				"description": "Action to perform",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message to process or deliver when the job fires",
			},
			"at_seconds": map[string]interface{}{
				"type":        "number",
				"description": "Run once, this many seconds from now",
			},
			"every_seconds": map[string]interface{}{
				"type":        "number",
				"description": "Run repeatedly every this many seconds",
			},
			"cron_expr": map[string]interface{}{
				"type":        "string",
				"description": "Run on a cron expression schedule",
			},
			"deliver": map[string]interface{}{
				"type":        "boolean",
				"description": "If true, post the message directly to the channel instead of running it through the agent",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Channel to deliver to or run the agent turn against",
			},
			"chat_id": map[string]interface{}{
				"type":        "string",
				"description": "Chat/recipient ID within channel",
			},
			"job_id": map[string]interface{}{
				"type":        "string",
				"description": "Job ID for remove/enable/disable",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	action, _ := args["action"].(string)
	switch action {
	case "add":
		return t.addAction(args), nil
	case "list":
		return t.listAction(args), nil
	case "remove":
		return t.removeAction(args), nil
	case "enable":
		return t.enableAction(args, true), nil
	case "disable":
		return t.enableAction(args, false), nil
	default:
		return "", fmt.Errorf("unknown action: %s", action)
	}
}

func (t *CronTool) addAction(args map[string]interface{}) string {
	message, _ := args["message"].(string)
	if message == "" {
		return "Error: message is required"
	}

	channel, _ := args["channel"].(string)
	chatID, _ := args["chat_id"].(string)
	if channel == "" || chatID == "" {
		ctxChannel, ctxChatID := getExecutionContext(args)
		if channel == "" {
			channel = ctxChannel
		}
		if chatID == "" {
			chatID = ctxChatID
		}
	}
	if channel == "" && chatID == "" {
		return "Error: no session context available; specify channel and chat_id"
	}

	schedule, err := buildSchedule(args)
	if err != nil {
		return "Error: " + err.Error()
	}

	deliver, _ := args["deliver"].(bool)

	job, err := t.service.AddJob(message, schedule, message, deliver, channel, chatID)
	if err != nil {
		return "Error: failed to create job: " + err.Error()
	}

	return fmt.Sprintf("Created job %s (%s)", job.ID, job.Schedule.Kind)
}

func buildSchedule(args map[string]interface{}) (cron.CronSchedule, error) {
	if atSeconds, ok := numericArg(args, "at_seconds"); ok {
		at := time.Now().Add(time.Duration(atSeconds) * time.Second).UnixMilli()
		return cron.CronSchedule{Kind: "at", AtMS: &at}, nil
	}
	if everySeconds, ok := numericArg(args, "every_seconds"); ok {
		everyMS := int64(everySeconds * 1000)
		return cron.CronSchedule{Kind: "every", EveryMS: &everyMS}, nil
	}
	if expr, ok := args["cron_expr"].(string); ok && expr != "" {
		return cron.CronSchedule{Kind: "cron", Expr: expr}, nil
	}
	return cron.CronSchedule{}, fmt.Errorf("one of at_seconds, every_seconds, or cron_expr is required")
}

func numericArg(args map[string]interface{}, key string) (float64, bool) {
	v, ok := args[key].(float64)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

func (t *CronTool) listAction(args map[string]interface{}) string {
	jobs := t.service.ListJobs(true)
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}

	var sb strings.Builder
	sb.WriteString("Scheduled jobs:\n")
	for _, job := range jobs {
		status := "enabled"
		if !job.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(&sb, "- %s [%s, %s]: %s\n", job.ID, job.Schedule.Kind, status, job.Payload.Message)
	}
	return sb.String()
}

func (t *CronTool) removeAction(args map[string]interface{}) string {
	jobID, _ := args["job_id"].(string)
	if jobID == "" {
		return "Error: job_id is required"
	}
	if !t.service.RemoveJob(jobID) {
		return fmt.Sprintf("Error: job %s not found", jobID)
	}
	return fmt.Sprintf("Removed job %s", jobID)
}

func (t *CronTool) enableAction(args map[string]interface{}, enabled bool) string {
	jobID, _ := args["job_id"].(string)
	if jobID == "" {
		return "Error: job_id is required"
	}
	job := t.service.EnableJob(jobID, enabled)
	if job == nil {
		return fmt.Sprintf("Error: job %s not found", jobID)
	}
	if enabled {
		return fmt.Sprintf("Job %s enabled", jobID)
	}
	return fmt.Sprintf("Job %s disabled", jobID)
}

// ExecuteJob runs a due job: a direct-delivery job is posted straight to the
// outbound bus, otherwise its message is processed through the agent on its
// own cron-scoped session.
func (t *CronTool) ExecuteJob(ctx context.Context, job *cron.CronJob) string {
	ctx, cancel := context.WithTimeout(ctx, cronJobTimeout)
	defer cancel()

	if job.Payload.Deliver {
		if t.msgBus != nil {
			t.msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: job.Payload.Channel,
				ChatID:  job.Payload.To,
				Content: job.Payload.Message,
			})
		}
		return "ok"
	}

	if t.executor == nil {
		return "ok"
	}

	sessionKey := "cron-" + job.ID
	if _, err := t.executor.ProcessDirectWithChannel(ctx, job.Payload.Message, sessionKey, job.Payload.Channel, job.Payload.To); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return "ok"
}
