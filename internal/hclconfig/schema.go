package hclconfig

// fileRoot is decoded from every file; any block may appear in any file.
type fileRoot struct {
	Deployments []*deploymentBlock `hcl:"deployment,block"`
	Hosts       []*hostBlock       `hcl:"host,block"`
	Subsystems  []*subsystemBlock  `hcl:"subsystem,block"`
	Actions     []*actionBlock     `hcl:"action,block"`
}

type deploymentBlock struct {
	Name               string  `hcl:"name,label"`
	HostsFile          *string `hcl:"hosts_file,optional"`
	ParallelSubsystems *bool   `hcl:"parallel_subsystems,optional"`
}

type hostBlock struct {
	Name         string  `hcl:"name,label"`
	Hostname     *string `hcl:"hostname,optional"`
	User         string  `hcl:"user"`
	Password     *string `hcl:"password,optional"`
	SessionPort  *int    `hcl:"session_port,optional"`
	TransferPort *int    `hcl:"transfer_port,optional"`
}

type subsystemBlock struct {
	Name      string         `hcl:"name,label"`
	DependsOn []string       `hcl:"depends_on,optional"`
	Actions   []*actionBlock `hcl:"action,block"`
}

type actionBlock struct {
	Kind          string            `hcl:"kind,label"`
	Name          string            `hcl:"name,label"`
	Hosts         []string          `hcl:"hosts"`
	DependsOn     []string          `hcl:"depends_on,optional"`
	Params        map[string]string `hcl:"params,optional"`
	Release       *string           `hcl:"release,optional"`
	Completion    *string           `hcl:"completion,optional"`
	ErrorPatterns []string          `hcl:"error_patterns,optional"`
	Timeout       *string           `hcl:"timeout,optional"`
	Execution     *bool             `hcl:"execution,optional"`
	OnSuccess     *string           `hcl:"on_success,optional"`
	OnFailure     *string           `hcl:"on_failure,optional"`
}
