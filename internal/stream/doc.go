// Package stream 把智能体引擎产出的步骤转换为 SSE 报文。
//
// Multiplexer 负责步骤到消息的映射以及部署地址登记；Controller 负责解析引擎、
// 打开单次可迭代的报文序列并写入 HTTP 响应。
package stream
