package storage

const (
	KeyTransactions = "tx_history"
	// KeyAddressLabels belongs to the address-label collaborator; nothing in this
	// module writes it, it is reserved so the two never collide.
	KeyAddressLabels = "address_labels"
)
