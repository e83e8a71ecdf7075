package gitops

// State is the last pipeline step a remediation reached.
type State int

const (
	Idle State = iota
	ConfigResolved
	WorkspacePrepared
	RepositoryReady
	FilesPatched
	Staged
	Committed
	Pushed
	Done
)

var stateNames = map[State]string{
	Idle:              "Idle",
	ConfigResolved:    "ConfigResolved",
	WorkspacePrepared: "WorkspacePrepared",
	RepositoryReady:   "RepositoryReady",
	FilesPatched:      "FilesPatched",
	Staged:            "Staged",
	Committed:         "Committed",
	Pushed:            "Pushed",
	Done:              "Done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Result struct {
	State        State    `json:"state"`
	NoOp         bool     `json:"no_op"`
	Repository   string   `json:"repository,omitempty"`
	Commit       string   `json:"commit,omitempty"`
	ChangedFiles []string `json:"changed_files,omitempty"`
}
