package registry

// 4-byte capability identifiers reported through interface discovery.
var (
	InterfaceIDERC165         = [4]byte{0x01, 0xff, 0xc9, 0xa7}
	InterfaceIDERC721         = [4]byte{0x80, 0xac, 0x58, 0xcd}
	InterfaceIDERC721Metadata = [4]byte{0x5b, 0x5e, 0x13, 0x9f}
	InterfaceIDPermit         = [4]byte{0x56, 0x04, 0xe2, 0x25}
)

var supportedInterfaces = map[[4]byte]bool{
	InterfaceIDERC165:         true,
	InterfaceIDERC721:         true,
	InterfaceIDERC721Metadata: true,
	InterfaceIDPermit:         true,
}

// SupportsInterface reports whether the registry implements the capability
// identified by id. The supported set is static.
func (r *Registry) SupportsInterface(id [4]byte) bool {
	return supportedInterfaces[id]
}
