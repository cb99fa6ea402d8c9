package agent

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Parser extracts structured blocks (tool calls, plans, task lists, worker
// requests) from raw model output. Parse failures never escape as errors to
// the cycle handler; they surface as ok=false / nil results and a debug log
// line, so a failure on one block cannot suppress extraction of its
// siblings.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "parser")}
}

// ParseResult is the outcome of ParseToolCalls.
type ParseResult struct {
	OK       bool
	Calls    []ToolCall
	Fallback bool   // true when the degraded delimiter-scan parser was used
	Err      string // parse failure reason when OK is false
}

// xmlNode is a minimal element tree used to walk blocks whose child tags are
// not known in advance (tool args, task fields).
type xmlNode struct {
	tag      string
	text     string
	children []*xmlNode
}

func (n *xmlNode) child(tag string) *xmlNode {
	for _, c := range n.children {
		if c.tag == tag {
			return c
		}
	}
	return nil
}

// parseBlock cuts the first <tag>...</tag> region out of text and parses it
// into an element tree. Returns nil, false when the block is absent.
func parseBlock(text, tag string) (*xmlNode, bool, error) {
	open, close := "<"+tag+">", "</"+tag+">"
	start := strings.Index(text, open)
	if start < 0 {
		return nil, false, nil
	}
	end := strings.Index(text[start:], close)
	if end < 0 {
		return nil, false, nil
	}
	block := text[start : start+end+len(close)]

	dec := xml.NewDecoder(strings.NewReader(block))
	root, err := decodeElement(dec)
	if err != nil {
		return nil, true, err
	}
	return root, true, nil
}

// decodeElement consumes tokens until the first element is fully decoded.
func decodeElement(dec *xml.Decoder) (*xmlNode, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decodeFrom(dec, start)
		}
	}
}

func decodeFrom(dec *xml.Decoder, start xml.StartElement) (*xmlNode, error) {
	node := &xmlNode{tag: start.Name.Local}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeFrom(dec, t)
			if err != nil {
				return nil, err
			}
			node.children = append(node.children, child)
		case xml.CharData:
			node.text += string(t)
		case xml.EndElement:
			node.text = strings.TrimSpace(node.text)
			return node, nil
		}
	}
}

// ParseToolCalls extracts tool calls from a <tool_requests> block. Success
// requires at least one well-formed <tool_call> with a non-empty <name>.
// When the block exists but is malformed XML, a degraded delimiter-scan
// fallback extracts a single call; such results are flagged Fallback.
func (p *Parser) ParseToolCalls(text string) ParseResult {
	root, found, err := parseBlock(text, "tool_requests")
	if !found && err == nil {
		return ParseResult{OK: false, Err: "no tool_requests block found"}
	}
	if err != nil {
		p.logger.Debug("tool_requests XML parse failed, attempting fallback", "error", err)
		return p.fallbackParse(text)
	}

	calls := root.child("calls")
	if calls == nil {
		return ParseResult{OK: false, Err: "no <calls> element found"}
	}

	var out []ToolCall
	for _, callElem := range calls.children {
		if callElem.tag != "tool_call" {
			continue
		}
		call, ok := parseSingleCall(callElem)
		if !ok {
			p.logger.Debug("skipping malformed tool_call", "reason", "missing or empty <name>")
			continue
		}
		out = append(out, call)
	}
	if len(out) == 0 {
		return ParseResult{OK: false, Err: "no valid tool calls found"}
	}
	return ParseResult{OK: true, Calls: out}
}

func parseSingleCall(elem *xmlNode) (ToolCall, bool) {
	name := elem.child("name")
	if name == nil || name.text == "" {
		return ToolCall{}, false
	}
	call := ToolCall{Name: name.text, Args: map[string]string{}}
	if args := elem.child("args"); args != nil {
		for _, arg := range args.children {
			call.Args[arg.tag] = arg.text
		}
	}
	return call, true
}

// fallbackParse recovers a single tool call by delimiter scan when the XML
// block is malformed but still contains <name>...</name>.
func (p *Parser) fallbackParse(text string) ParseResult {
	name, ok := between(text, "name")
	if !ok || strings.TrimSpace(name) == "" {
		return ParseResult{OK: false, Err: "both XML and fallback parsing failed"}
	}
	call := ToolCall{Name: strings.TrimSpace(name), Args: map[string]string{}}
	for _, arg := range []string{"target_agent_id", "message"} {
		if v, ok := between(text, arg); ok {
			call.Args[arg] = strings.TrimSpace(v)
		}
	}
	p.logger.Debug("used fallback tool-call parser; result may be incomplete", "tool", call.Name)
	return ParseResult{OK: true, Calls: []ToolCall{call}, Fallback: true}
}

func between(text, tag string) (string, bool) {
	open, close := "<"+tag+">", "</"+tag+">"
	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(open):]
	end := strings.Index(rest, close)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// ExtractPlan pulls a <plan> block from model output. Objectives and
// deliverables are dash-prefixed lines, one item per line.
func (p *Parser) ExtractPlan(text string) *Plan {
	root, found, err := parseBlock(text, "plan")
	if !found {
		return nil
	}
	if err != nil {
		p.logger.Debug("plan block parse failed", "error", err)
		return nil
	}

	plan := &Plan{}
	for _, c := range root.children {
		switch c.tag {
		case "project_name":
			plan.ProjectName = c.text
		case "description":
			plan.Description = c.text
		case "objectives":
			plan.Objectives = dashItems(c.text)
		case "deliverables":
			plan.Deliverables = dashItems(c.text)
		}
	}
	return plan
}

// dashItems splits a block of text into items, one per line starting with
// "-", with the dash stripped.
func dashItems(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-") {
			items = append(items, strings.TrimSpace(line[1:]))
		}
	}
	return items
}

// ExtractTaskList pulls the <task> children of a <task_list> block. Known
// tags fill the Task struct; unknown tags land in Fields. Returns nil when
// the block is absent, malformed, or empty.
func (p *Parser) ExtractTaskList(text string) []Task {
	root, found, err := parseBlock(text, "task_list")
	if !found {
		return nil
	}
	if err != nil {
		p.logger.Debug("task_list block parse failed", "error", err)
		return nil
	}

	var tasks []Task
	for _, taskElem := range root.children {
		if taskElem.tag != "task" {
			continue
		}
		task := Task{}
		for _, c := range taskElem.children {
			switch c.tag {
			case "id":
				task.ID = c.text
			case "name":
				task.Name = c.text
			case "description":
				task.Description = c.text
			case "required_skills":
				task.RequiredSkills = c.text
			default:
				if task.Fields == nil {
					task.Fields = map[string]string{}
				}
				task.Fields[c.tag] = c.text
			}
		}
		if task.ID != "" || task.Name != "" || task.Description != "" ||
			task.RequiredSkills != "" || len(task.Fields) > 0 {
			tasks = append(tasks, task)
		}
	}
	if len(tasks) == 0 {
		return nil
	}
	return tasks
}

// ExtractCreateWorkerRequest pulls a <create_worker_request> block. A
// task_id is mandatory; requests without one are discarded.
func (p *Parser) ExtractCreateWorkerRequest(text string) *WorkerRequest {
	root, found, err := parseBlock(text, "create_worker_request")
	if !found {
		return nil
	}
	if err != nil {
		p.logger.Debug("create_worker_request block parse failed", "error", err)
		return nil
	}

	req := &WorkerRequest{}
	for _, c := range root.children {
		switch c.tag {
		case "task_id":
			req.TaskID = c.text
		case "specialty":
			req.Specialty = c.text
		default:
			if req.Fields == nil {
				req.Fields = map[string]string{}
			}
			req.Fields[c.tag] = c.text
		}
	}
	if req.TaskID == "" {
		return nil
	}
	return req
}

// knownStates guards ExtractStateChange against arbitrary strings from the
// model; unknown names are treated as no request.
var knownStates = map[string]State{
	string(StateIdle): StateIdle, string(StateStartup): StateStartup,
	string(StatePlanning): StatePlanning, string(StateConversation): StateConversation,
	string(StateWork): StateWork, string(StateWait): StateWait,
	string(StateStandby): StateStandby, string(StateManage): StateManage,
	string(StateBuildTeamTasks): StateBuildTeamTasks,
	string(StateActivateWorkers): StateActivateWorkers,
	string(StateMaintenance): StateMaintenance,
}

// ExtractStateChange pulls a <state_change_request> block carrying a
// <new_state> name. Unknown or reserved states (processing, shutdown,
// error) are ignored.
func (p *Parser) ExtractStateChange(text string) (State, bool) {
	root, found, err := parseBlock(text, "state_change_request")
	if !found {
		return "", false
	}
	if err != nil {
		p.logger.Debug("state_change_request block parse failed", "error", err)
		return "", false
	}
	name := root.text
	if c := root.child("new_state"); c != nil {
		name = c.text
	}
	state, ok := knownStates[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		p.logger.Debug("ignoring state change request for unknown state", "state", name)
		return "", false
	}
	return state, true
}

// SerializeToolCalls renders calls back into the wire format. Arg order is
// sorted for determinism, so ParseToolCalls(SerializeToolCalls(calls))
// round-trips any calls whose values carry no XML-reserved characters.
func SerializeToolCalls(calls []ToolCall) string {
	var sb strings.Builder
	sb.WriteString("<tool_requests>\n  <calls>\n")
	for _, call := range calls {
		sb.WriteString("    <tool_call>\n")
		fmt.Fprintf(&sb, "      <name>%s</name>\n", call.Name)
		sb.WriteString("      <args>\n")
		keys := make([]string, 0, len(call.Args))
		for k := range call.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "        <%s>%s</%s>\n", k, call.Args[k], k)
		}
		sb.WriteString("      </args>\n    </tool_call>\n")
	}
	sb.WriteString("  </calls>\n</tool_requests>")
	return sb.String()
}
