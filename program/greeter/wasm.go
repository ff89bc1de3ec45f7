package greeter

// Wasm is the greeter compiled to a WebAssembly module. It is equivalent to:
//
//	(module
//	  (import "env" "get_program_id" (func $id (param i32 i32) (result i32)))
//	  (import "env" "log_message" (func $log (param i32 i32)))
//	  (memory (export "memory") 1)
//	  (data (i32.const 0) "Greetings from: ")
//	  (func (export "initialize") (result i32)
//	    (call $log (i32.const 0)
//	      (i32.add (i32.const 16) (call $id (i32.const 16) (i32.const 64))))
//	    (i32.const 0)))
var Wasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,

	// type: (i32 i32)->i32, (i32 i32)->(), ()->i32
	0x01, 0x10,
	0x03, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f, 0x60, 0x02, 0x7f, 0x7f, 0x00, 0x60, 0x00, 0x01, 0x7f,

	// import: env.get_program_id, env.log_message
	0x02, 0x28,
	0x02,
	0x03, 0x65, 0x6e, 0x76, 0x0e, 0x67, 0x65, 0x74, 0x5f, 0x70, 0x72, 0x6f, 0x67, 0x72, 0x61, 0x6d, 0x5f, 0x69, 0x64, 0x00, 0x00,
	0x03, 0x65, 0x6e, 0x76, 0x0b, 0x6c, 0x6f, 0x67, 0x5f, 0x6d, 0x65, 0x73, 0x73, 0x61, 0x67, 0x65, 0x00, 0x01,

	// function
	0x03, 0x02,
	0x01, 0x02,

	// memory: one page
	0x05, 0x03,
	0x01, 0x00, 0x01,

	// export: memory, initialize
	0x07, 0x17,
	0x02,
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00,
	0x0a, 0x69, 0x6e, 0x69, 0x74, 0x69, 0x61, 0x6c, 0x69, 0x7a, 0x65, 0x00, 0x02,

	// code
	0x0a, 0x14,
	0x01, 0x12, 0x00,
	0x41, 0x00, 0x41, 0x10, 0x41, 0x10, 0x41, 0xc0, 0x00, 0x10, 0x00, 0x6a, 0x10, 0x01, 0x41, 0x00, 0x0b,

	// data: "Greetings from: " at offset 0
	0x0b, 0x16,
	0x01, 0x00, 0x41, 0x00, 0x0b, 0x10,
	0x47, 0x72, 0x65, 0x65, 0x74, 0x69, 0x6e, 0x67, 0x73, 0x20, 0x66, 0x72, 0x6f, 0x6d, 0x3a, 0x20,
}
