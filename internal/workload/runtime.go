package workload

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// ContainerInfo is the subset of container state the admin surface reports.
type ContainerInfo struct {
	Name    string
	Image   string
	Running bool
	Labels  map[string]string
	Ports   []string
}

// Runtime lists the containers currently known to the local engine. It is
// the workload-visibility half of the admin surface; nothing in this
// package starts, stops, or reconfigures a container.
type Runtime interface {
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
	Close() error
}

var _ Runtime = (*DockerRuntime)(nil)

// DockerRuntime implements Runtime against the local Docker Engine API.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime dials the Docker daemon using the standard environment
// variables (DOCKER_HOST, DOCKER_CERT_PATH, ...), negotiating the API
// version so this daemon keeps working across engine upgrades.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("workload: create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// ListContainers reports every container the engine knows about, running
// or not.
func (r *DockerRuntime) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	summaries, err := r.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("workload: list containers: %w", err)
	}

	out := make([]ContainerInfo, 0, len(summaries))
	for _, c := range summaries {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		labels := make(map[string]string, len(c.Labels))
		for k, v := range c.Labels {
			labels[k] = v
		}
		out = append(out, ContainerInfo{
			Name:    name,
			Image:   c.Image,
			Running: c.State == "running",
			Labels:  labels,
			Ports:   formatPorts(c.Ports),
		})
	}
	return out, nil
}

// Close releases the underlying Docker client connection.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// formatPorts renders a container's exposed ports in the canonical
// "<port>/<proto>" form the Docker CLI itself uses.
func formatPorts(ports []container.Port) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		proto := p.Type
		if proto == "" {
			proto = "tcp"
		}
		out = append(out, string(nat.Port(strconv.Itoa(int(p.PrivatePort))+"/"+proto)))
	}
	return out
}
