package app

import (
	"github.com/unicesi/amelia-sub000/internal/registry"
	"github.com/unicesi/amelia-sub000/modules/assets"
	"github.com/unicesi/amelia-sub000/modules/frascati"
	"github.com/unicesi/amelia-sub000/modules/http_request"
	"github.com/unicesi/amelia-sub000/modules/shell"
)

// coreModules is the definitive list of all modules that are compiled into
// the amelia binary.
var coreModules = []registry.Module{
	&shell.Module{},
	&frascati.Module{},
	&assets.Module{},
	&http_request.Module{},
}

// CoreModules returns the modules compiled into the binary.
func CoreModules() []registry.Module {
	return append([]registry.Module(nil), coreModules...)
}
