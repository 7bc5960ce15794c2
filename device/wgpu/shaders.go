//go:build windows

package wgpu

// workgroupSize is the number of threads per workgroup for the fill shader.
const workgroupSize = 256

// fillShader writes a repeating 16-byte pattern over a window of 4-byte
// elements. The pattern arrives as four u32 words; element i of the window
// receives word i mod 4.
const fillShader = `
@group(0) @binding(0) var<storage, read_write> dst: array<u32>;

struct Params {
    pattern: vec4<u32>,
    first: u32,
    count: u32,
}
@group(0) @binding(1) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.count) {
        dst[params.first + idx] = params.pattern[idx % 4u];
    }
}
`
