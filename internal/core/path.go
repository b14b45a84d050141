package core

import "strings"

// GatewayPathPrefix is the path under which routed services are served
const GatewayPathPrefix = "/api/"

// ParseGatewayPath splits /api/{service}/{subpath...} into the service
// name and the remaining path. The subpath keeps its leading slash and is
// empty when the request targets the service root.
func ParseGatewayPath(path string) (service, subpath string, ok bool) {
	rest, found := strings.CutPrefix(path, GatewayPathPrefix)
	if !found {
		return "", "", false
	}
	service, subpath, _ = strings.Cut(rest, "/")
	if service == "" {
		return "", "", false
	}
	if subpath != "" || strings.HasSuffix(rest, "/") {
		subpath = "/" + subpath
	}
	return service, subpath, true
}
