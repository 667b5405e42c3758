package app

import (
	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/modules/emcee"
	"github.com/vk/starbundle/modules/legacy"
	"github.com/vk/starbundle/modules/phoebe"
	"github.com/vk/starbundle/modules/remote"
)

// coreModules is the definitive list of all backends that are compiled into
// the starbundle binary.
var coreModules = []backend.Module{
	&phoebe.Module{},
	&legacy.Module{},
	&emcee.Module{},
	&remote.Module{},
}
