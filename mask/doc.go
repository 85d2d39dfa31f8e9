// Package mask implements the fixed-point vector encoding the PET
// protocol uses to mask and aggregate model weights. A Config fixes a
// modulus q and a bijection between a signed fixed-point vector of
// length L and an integer Vector in [0, q)^L; element-wise addition of
// two Vectors mod q is the core identity the protocol exploits, since
// masks and masked models can be summed without ever being decoded.
package mask
