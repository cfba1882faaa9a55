// Package codec decodes the binary encodings found in OTP provisioning data:
// RFC 4648 base32 secrets and the length-prefixed protobuf payload carried by
// otpauth-migration links.
//
// Decoding is pure. Nothing in this package touches the vault, so a caller can
// abandon a decode at any point without side effects.
package codec
