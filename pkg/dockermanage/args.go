package dockermanage

import (
	"strconv"
	"strings"
)

// Args is the argument list that follows "docker run". It is suitable for use with exec.Command.
type Args []string

// BuildArgs returns the "docker run" arguments for spec, naming the container name.
//
// The order is fixed: detach flag, name, ports, environment, health check, then image:tag. Identical
// input always yields identical output.
func BuildArgs(spec ContainerSpec, name string) Args {
	args := Args{"-d", "--name", name}
	for _, p := range spec.Ports {
		args = append(args, "-p", strconv.Itoa(p.HostPort)+":"+strconv.Itoa(p.ContainerPort))
	}
	for _, e := range spec.Environment {
		args = append(args, "-e", e.Key+"="+e.Value)
	}
	if hc := spec.HealthCheck; hc != nil {
		args = append(args, "--health-cmd="+strings.Join(hc.Test, " "))
		if hc.Interval != "" {
			args = append(args, "--health-interval="+hc.Interval)
		}
		if hc.Timeout != "" {
			args = append(args, "--health-timeout="+hc.Timeout)
		}
		if hc.Retries > 0 {
			args = append(args, "--health-retries="+strconv.Itoa(hc.Retries))
		}
		if hc.StartPeriod != "" {
			args = append(args, "--health-start-period="+hc.StartPeriod)
		}
	}
	return append(args, spec.Reference())
}

// String renders the arguments on a single line the way they would be typed in a shell. A
// --flag=value token whose value contains whitespace is rendered as --flag="value".
func (a Args) String() string {
	parts := make([]string, len(a))
	for i, arg := range a {
		parts[i] = quote(arg)
	}
	return strings.Join(parts, " ")
}

func quote(arg string) string {
	if !strings.ContainsAny(arg, " \t") {
		return arg
	}
	if strings.HasPrefix(arg, "--") {
		if flag, value, ok := strings.Cut(arg, "="); ok {
			return flag + "=" + strconv.Quote(value)
		}
	}
	return strconv.Quote(arg)
}
