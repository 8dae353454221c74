package voxgrid

import "github.com/Agora-Build/voxgrid/id"

// ID is the primary identifier type for all voxgrid entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
