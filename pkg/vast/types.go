package vast

import "fmt"

// Offer is one rentable configuration returned by the marketplace search.
type Offer struct {
	ID        int     `json:"id"`
	MachineID int     `json:"machine_id"`
	HostID    int     `json:"host_id"`
	GPUName   string  `json:"gpu_name"`
	NumGPUs   int     `json:"num_gpus"`
	DLPerf    float64 `json:"dlperf"`
	DPHTotal  float64 `json:"dph_total"`
	Verified  bool    `json:"verified"`
}

// Instance is a rented instance as reported by the marketplace.
type Instance struct {
	ID           int     `json:"id"`
	MachineID    int     `json:"machine_id"`
	ActualStatus string  `json:"actual_status"`
	SSHHost      string  `json:"ssh_host"`
	SSHPort      int     `json:"ssh_port"`
	PublicIP     string  `json:"public_ipaddr"`
	Label        string  `json:"label"`
	DPHTotal     float64 `json:"dph_total"`
}

// Running reports whether the instance has reached its running state.
func (i *Instance) Running() bool {
	return i.ActualStatus == "running"
}

// CreateSpec describes the instance to create from an accepted offer.
type CreateSpec struct {
	Image   string
	DiskGB  float64
	Label   string
	OnStart string
}

// LabelPrefix marks instances created by vastmark so cleanup and
// cancellation can find them without any local state.
const LabelPrefix = "vastmark-"

// LabelForMachine derives the instance label for a target machine id.
func LabelForMachine(machineID int) string {
	return fmt.Sprintf("%s%d", LabelPrefix, machineID)
}
