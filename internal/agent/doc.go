// Package agent 负责驱动大模型与链上工具的推理循环，并把每一步执行结果
// 以 StepEvent 序列的形式交给上层的流式输出。
//
// 包内还包含部署类动作的合约地址提取以及引擎实例的生命周期管理。
package agent
