package models

// Job attribute names on a host document node.
const (
	AttrNodeType      = "node_type"
	AttrWorkflowData  = "workflow_data"
	AttrWorkflowPath  = "workflow_path"
	AttrParameters    = "parameters"
	AttrBatchCount    = "batch_count"
	AttrAutoImport    = "auto_import"
	AttrReuseOutput   = "reuse_output"
	AttrInputMapping  = "input_mapping"
	AttrInputAssets   = "input_assets"
	AttrModelPaths    = "model_paths"
	AttrStatusPayload = "status_payload"
	AttrStatus        = "status"
	AttrPromptPath    = "prompt_path"
	AttrPromptHash    = "prompt_hash"
	AttrNodeID        = "node_id"
	AttrReadNodeID    = "read_node_id"
	AttrBatchOutputs  = "batch_outputs"
	AttrLastOutput    = "last_output"
	AttrPromptID      = "prompt_id"
)

// Read node attribute names.
const (
	AttrFile       = "file"
	AttrBatchIndex = "batch_index"
	AttrBatchLabel = "batch_label"
	AttrParentID   = "parent_id"
)

// Host node types created by genrelay.
const (
	NodeTypeJob     = "GenJob"
	NodeTypeRead    = "Read"
	NodeTypeReadGeo = "ReadGeo"
	NodeTypeCamera  = "Camera"
)

// JobDefinition is everything a run needs from a job node, read once when the
// run is triggered.
type JobDefinition struct {
	ID           string
	WorkflowPath string
	Authoring    *AuthoringGraph
	Parameters   []ParameterSpec
	Values       map[string]string
	BatchCount   int
	AutoImport   bool
	ReuseOutput  bool
	InputMapping []InputMapping
	InputAssets  []InputAsset
	ModelPaths   map[string]string
	PromptPath   string
	PromptHash   string
}

// InputMapping routes one host-rendered input into the execution graph.
type InputMapping struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	NodeID     string `json:"node_id,omitempty"`
	Socket     string `json:"socket,omitempty"`
	Source     string `json:"source,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// SourceSetNode marks a mapping whose target is published through a setter node.
const SourceSetNode = "set_node"

// InputAsset is a file the host rendered for an InputMapping. BatchIndex, when
// set, restricts the asset to that iteration (multi-view jobs).
type InputAsset struct {
	Index      int    `json:"index"`
	Path       string `json:"path"`
	BatchIndex *int   `json:"batch_index,omitempty"`
}

// JobSummary is the API view of a job node.
type JobSummary struct {
	ID         string        `json:"id"`
	BatchCount int           `json:"batch_count"`
	AutoImport bool          `json:"auto_import"`
	Status     StatusPayload `json:"status"`
	Stale      bool          `json:"stale"`
}
