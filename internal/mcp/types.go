package mcp

// --- Tool Arguments ---

type QueryNodesArgs struct {
	From      string   `json:"from,omitempty" jsonschema:"Source class: 'all' or one of data, functions, structs, enums, modules, databases, externs, tests"`
	WhereJSON string   `json:"where,omitempty" jsonschema:"Filter predicate as JSON, e.g. {\"op\":\"contains\",\"field\":\"content\",\"value\":\"auth\"}"`
	OrderBy   string   `json:"order_by,omitempty" jsonschema:"Field to sort results by (id, kind, content or metadata.<key>)"`
	Desc      bool     `json:"desc,omitempty" jsonschema:"Sort descending"`
	Limit     int      `json:"limit,omitempty" jsonschema:"Max number of results (default 20)"`
}

type QueryNodesResult struct {
	Count int      `json:"count"`
	Nodes []string `json:"nodes"` // Formatted strings for the LLM
}

type TraverseGraphArgs struct {
	Start     string `json:"start" jsonschema:"Node id to start the walk from,required"`
	Relation  string `json:"relation,omitempty" jsonschema:"Restrict the walk to one relation type (e.g. 'contains', 'depends_on')"`
	Direction string `json:"direction,omitempty" jsonschema:"Edge direction: 'outgoing' (default), 'incoming' or 'both'"`
	Depth     int    `json:"depth,omitempty" jsonschema:"Max depth (default 2)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Max nodes visited (default 50)"`
}

type TraverseGraphResult struct {
	GraphDescription string `json:"graph_description"` // Textual description of what was reached
}

type GetNodeArgs struct {
	ID string `json:"id" jsonschema:"The node id to look up,required"`
}

type GetNodeResult struct {
	Found       bool   `json:"found"`
	Description string `json:"description,omitempty"`
}

type GraphStatsResult struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}
