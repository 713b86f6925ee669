package agent

import (
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"taskdeck/config"
	"taskdeck/task"
)

// Bundle is the guardrail payload composed for one spawn request.
// Composition is pure: identical identity, task, and project inputs
// always produce byte-identical bundles.
type Bundle struct {
	AllowedPaths     []string
	ForbiddenActions []string
	Compliance       []string
	SystemPrompt     string
	Text             string
}

// Composer renders guardrail bundles and spawn prompts from the
// project configuration.
type Composer struct {
	project config.ProjectConfig
	lead    string
}

// NewComposer builds a Composer for the given project. The lead agent
// name appears in the escalation chain.
func NewComposer(project config.ProjectConfig, lead string) *Composer {
	return &Composer{project: project, lead: lead}
}

var tmplFuncs = template.FuncMap{
	"join": strings.Join,
}

var guardrailTmpl = template.Must(template.New("guardrail").Funcs(tmplFuncs).Parse(
	`MANDATORY CONSTRAINTS (approved by {{.Human}} via {{.BoardTitle}} assignment)

FILESYSTEM BOUNDARIES
You may only read and write under: {{join .AllowedPaths ", "}}

FORBIDDEN ACTIONS
{{range .Forbidden}}- {{.}}
{{end}}
WEB FETCH
Outbound web fetches need approval. Raise a question action item on the
task and wait for {{.Human}} to resolve it before fetching.

COMPLIANCE CONTEXT
Company: {{.Company}} ({{.Context}})
Frameworks: {{join .Compliance ", "}}
Security over convenience, always.

COMMUNICATION AND ESCALATION
Report progress as task comments. Raise blockers and questions as action
items. {{.Lead}} monitors open questions and answers them or leaves them
for {{.Human}}. {{.Human}} has final authority.

TASK BOARD INTEGRATION
Comment:  POST {{.BoardURL}}/api/tasks/{{.TaskID}}/comments with {"author": "{{.Agent}}", "body": "..."}
Move:     POST {{.BoardURL}}/api/tasks/{{.TaskID}}/move with {"status": "review", "actor": "{{.Agent}}", "reason": "..."}
Question: POST {{.BoardURL}}/api/tasks/{{.TaskID}}/action-items with {"kind": "question", "author": "{{.Agent}}", "body": "..."}
Working:  POST {{.BoardURL}}/api/tasks/{{.TaskID}}/start-work?agent={{.AgentQuery}} and .../stop-work?agent={{.AgentQuery}}

REPORT FORMAT
Post one comment titled "## {{.Agent}} Report" containing a verdict
(PASS, WARN, or BLOCK), findings prefixed [SEVERITY], and a short
summary.`))

var assignmentTmpl = template.Must(template.New("assignment").Parse(
	`# Task assignment from {{.BoardTitle}} (approved by {{.Human}})

Task #{{.TaskID}}: {{.Title}}

{{.Description}}
{{if .Comments}}
## Recent discussion
{{range .Comments}}{{.Author}}: {{.Body}}
{{end}}{{end}}
{{.Guardrails}}

## Your role
{{.Role}}

## Instructions
1. Mark yourself working: POST {{.BoardURL}}/api/tasks/{{.TaskID}}/start-work?agent={{.AgentQuery}}
2. Analyze the task within your role.
3. Post your findings as a comment in the report format.
4. Move the task to review with a reason when your work is done.
5. Mark yourself finished: POST {{.BoardURL}}/api/tasks/{{.TaskID}}/stop-work?agent={{.AgentQuery}}

## Stay available
Keep this session alive after reporting. Replies on the task thread are
forwarded to you here.`))

var mentionTmpl = template.Must(template.New("mention").Parse(
	`# You were tagged on task #{{.TaskID}}: {{.Title}}

{{.Mentioner}} said:
{{.CommentBody}}
{{if .Prior}}
## Previous discussion
{{range .Prior}}{{.Author}}: {{.Body}}
{{end}}{{end}}
## Your role
{{.Role}}

## Instructions
You are not the assigned owner of this task. Review the thread, answer
what {{.Mentioner}} raised as a task comment in the report format, and
raise action items where needed. Do not move the task.

{{.Guardrails}}`))

// Compose builds the guardrail bundle for one agent on one task.
func (c *Composer) Compose(id Identity, t *task.Task) (Bundle, error) {
	forbidden := make([]string, 0, 3)
	if id.Profile == "ux" {
		forbidden = append(forbidden, "Browser use beyond localhost (http://localhost:* and http://127.0.0.1:* only)")
	} else {
		forbidden = append(forbidden, "Browser use, on any address")
	}
	forbidden = append(forbidden,
		fmt.Sprintf("git commit without an approval safeword from %s", c.project.HumanName),
		"Reading or writing outside the allowed filesystem paths",
	)

	compliance := c.project.Compliance
	if len(compliance) == 0 {
		compliance = []string{"internal security policy"}
	}

	data := struct {
		Human, BoardTitle, Company, Context, Lead string
		BoardURL, TaskID, Agent, AgentQuery       string
		AllowedPaths, Forbidden, Compliance       []string
	}{
		Human:        c.project.HumanName,
		BoardTitle:   c.project.BoardTitle,
		Company:      c.project.Company,
		Context:      c.project.Context,
		Lead:         c.lead,
		BoardURL:     c.project.BoardURL,
		TaskID:       t.ID,
		Agent:        id.Name,
		AgentQuery:   url.QueryEscape(id.Name),
		AllowedPaths: c.project.AllowedPaths,
		Forbidden:    forbidden,
		Compliance:   compliance,
	}

	var sb strings.Builder
	if err := guardrailTmpl.Execute(&sb, data); err != nil {
		return Bundle{}, fmt.Errorf("render guardrails: %w", err)
	}
	return Bundle{
		AllowedPaths:     c.project.AllowedPaths,
		ForbiddenActions: forbidden,
		Compliance:       compliance,
		SystemPrompt:     id.SystemPrompt,
		Text:             sb.String(),
	}, nil
}

type promptComment struct {
	Author, Body string
}

func promptComments(comments []*task.Comment) []promptComment {
	out := make([]promptComment, 0, len(comments))
	for _, c := range comments {
		out = append(out, promptComment{Author: c.Author, Body: truncate(c.Body, 500)})
	}
	return out
}

// AssignmentPrompt renders the full prompt for a session spawned when a
// task enters in_progress with this agent assigned.
func (c *Composer) AssignmentPrompt(id Identity, t *task.Task, recent []*task.Comment) (string, error) {
	bundle, err := c.Compose(id, t)
	if err != nil {
		return "", err
	}
	data := struct {
		BoardTitle, Human, TaskID, Title, Description string
		Comments                                      []promptComment
		Guardrails, Role, BoardURL, AgentQuery        string
	}{
		BoardTitle:  c.project.BoardTitle,
		Human:       c.project.HumanName,
		TaskID:      t.ID,
		Title:       t.Title,
		Description: t.Description,
		Comments:    promptComments(recent),
		Guardrails:  bundle.Text,
		Role:        id.SystemPrompt,
		BoardURL:    c.project.BoardURL,
		AgentQuery:  url.QueryEscape(id.Name),
	}
	var sb strings.Builder
	if err := assignmentTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render assignment prompt: %w", err)
	}
	return sb.String(), nil
}

// MentionPrompt renders the prompt for a session spawned because a
// comment tagged this agent.
func (c *Composer) MentionPrompt(id Identity, t *task.Task, mentioner, body string, prior []*task.Comment) (string, error) {
	bundle, err := c.Compose(id, t)
	if err != nil {
		return "", err
	}
	data := struct {
		TaskID, Title, Mentioner, CommentBody string
		Prior                                 []promptComment
		Role, Guardrails                      string
	}{
		TaskID:      t.ID,
		Title:       t.Title,
		Mentioner:   mentioner,
		CommentBody: truncate(body, 500),
		Prior:       promptComments(prior),
		Role:        id.SystemPrompt,
		Guardrails:  bundle.Text,
	}
	var sb strings.Builder
	if err := mentionTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render mention prompt: %w", err)
	}
	return sb.String(), nil
}
